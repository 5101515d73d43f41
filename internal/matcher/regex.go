package matcher

import (
	"regexp"
	"sync"
)

var regexCache = &compiledCache{}

// compiledCache memoizes compilation results, failures included.
type compiledCache struct {
	m sync.Map
}

type compiled struct {
	re  *regexp.Regexp
	err error
}

func (c *compiledCache) get(pattern string) (*regexp.Regexp, error) {
	if v, ok := c.m.Load(pattern); ok {
		e := v.(compiled)
		return e.re, e.err
	}
	re, err := regexp.Compile(pattern)
	c.m.Store(pattern, compiled{re: re, err: err})
	return re, err
}

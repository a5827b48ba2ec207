// Package headers applies configured header transformation rules to
// upstream requests. Rules run in config order against the inbound
// request's headers; applying the same rules to the same inbound set twice
// produces the same upstream set.
package headers

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/jrmatherly/nexus/internal/config"
)

// Rule is one compiled header transformation.
type Rule struct {
	apply func(upstream http.Header, inbound http.Header)
}

// RuleSet is an ordered list of compiled rules.
type RuleSet []Rule

// Compile resolves env references and compiles patterns once at startup so
// request-time application cannot fail.
func Compile(rules []config.HeaderRule) (RuleSet, error) {
	compiled := make(RuleSet, 0, len(rules))
	for i, r := range rules {
		switch {
		case r.Insert != nil:
			value, err := config.SubstituteEnv(r.Insert.Value)
			if err != nil {
				return nil, fmt.Errorf("headers[%d].insert.%s: %w", i, r.Insert.Name, err)
			}
			name := r.Insert.Name
			compiled = append(compiled, Rule{apply: func(upstream, _ http.Header) {
				upstream.Set(name, value)
			}})

		case r.Remove != nil:
			rule, err := compileRemove(r.Remove)
			if err != nil {
				return nil, fmt.Errorf("headers[%d].remove: %w", i, err)
			}
			compiled = append(compiled, rule)

		case r.Forward != nil:
			rule, err := compileForward(r.Forward)
			if err != nil {
				return nil, fmt.Errorf("headers[%d].forward: %w", i, err)
			}
			compiled = append(compiled, rule)

		case r.RenameDuplicate != nil:
			rd := *r.RenameDuplicate
			compiled = append(compiled, Rule{apply: func(upstream, inbound http.Header) {
				value := inbound.Get(rd.Name)
				if value == "" {
					value = rd.Default
				}
				if value == "" {
					return
				}
				upstream.Set(rd.Name, value)
				upstream.Set(rd.Rename, value)
			}})

		default:
			return nil, fmt.Errorf("headers[%d]: rule must set insert, remove, forward, or rename_duplicate", i)
		}
	}
	return compiled, nil
}

func compileRemove(r *config.HeaderRemove) (Rule, error) {
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return Rule{}, fmt.Errorf("pattern %q: %w", r.Pattern, err)
		}
		return Rule{apply: func(upstream, _ http.Header) {
			for name := range upstream {
				if re.MatchString(name) {
					upstream.Del(name)
				}
			}
		}}, nil
	}
	if r.Name == "" {
		return Rule{}, fmt.Errorf("remove requires name or pattern")
	}
	name := r.Name
	return Rule{apply: func(upstream, _ http.Header) {
		upstream.Del(name)
	}}, nil
}

func compileForward(r *config.HeaderForward) (Rule, error) {
	if r.Pattern != "" {
		if r.Rename != "" {
			return Rule{}, fmt.Errorf("forward: rename cannot be combined with pattern")
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return Rule{}, fmt.Errorf("pattern %q: %w", r.Pattern, err)
		}
		return Rule{apply: func(upstream, inbound http.Header) {
			for name, values := range inbound {
				if !re.MatchString(name) {
					continue
				}
				upstream.Del(name)
				for _, v := range values {
					upstream.Add(name, v)
				}
			}
		}}, nil
	}
	if r.Name == "" {
		return Rule{}, fmt.Errorf("forward requires name or pattern")
	}
	fwd := *r
	target := fwd.Name
	if fwd.Rename != "" {
		target = fwd.Rename
	}
	return Rule{apply: func(upstream, inbound http.Header) {
		value := inbound.Get(fwd.Name)
		if value == "" {
			value = fwd.Default
		}
		if value == "" {
			return
		}
		upstream.Set(target, value)
	}}, nil
}

// Apply runs the rule set against inbound headers, mutating upstream.
func (rs RuleSet) Apply(upstream http.Header, inbound http.Header) {
	if inbound == nil {
		inbound = http.Header{}
	}
	for _, rule := range rs {
		rule.apply(upstream, inbound)
	}
}

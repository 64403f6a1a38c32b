package descriptor

import (
	"fmt"
	"strings"
)

// tree is a parsed descriptor expression of the form name(arg,...). Leaves
// have no parentheses. raw preserves the exact source span of the node so
// that script subexpressions can be handed to the miniscript parser
// verbatim.
type tree struct {
	name string
	args []*tree
	raw  string
}

// parseExpression parses a full descriptor body (without checksum) into an
// expression tree.
func parseExpression(s string) (*tree, error) {
	node, rest, err := parseSubExpression(s)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("trailing characters %q after "+
			"descriptor expression", rest)
	}
	return node, nil
}

// parseSubExpression parses one expression from the front of s and returns
// the unconsumed remainder.
func parseSubExpression(s string) (*tree, string, error) {
	i := strings.IndexAny(s, "(),")
	if i == -1 {
		if s == "" {
			return nil, "", fmt.Errorf("empty descriptor " +
				"expression")
		}
		return &tree{name: s, raw: s}, "", nil
	}
	if s[i] != '(' {
		// Leaf argument, terminated by the parent's ',' or ')'.
		if i == 0 {
			return nil, "", fmt.Errorf("empty descriptor " +
				"expression")
		}
		return &tree{name: s[:i], raw: s[:i]}, s[i:], nil
	}

	name := s[:i]
	rest := s[i+1:]
	var args []*tree
	for {
		arg, r, err := parseSubExpression(rest)
		if err != nil {
			return nil, "", err
		}
		args = append(args, arg)
		if r == "" {
			return nil, "", fmt.Errorf("unbalanced parentheses " +
				"in descriptor")
		}
		rest = r[1:]
		if r[0] == ')' {
			break
		}
		if r[0] != ',' {
			return nil, "", fmt.Errorf("unbalanced parentheses " +
				"in descriptor")
		}
	}
	raw := s[:len(s)-len(rest)]
	return &tree{name: name, args: args, raw: raw}, rest, nil
}

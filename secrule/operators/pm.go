package operators

import (
	"fmt"
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// pmOperator is the multi-pattern phrase match. Phrases come from the rule value itself (@pm)
// or from a data file (@pmFromFile). Matching is case-insensitive and the first hit wins.
type pmOperator struct {
	fromFile bool
	phrases  []string
	ac       ahocorasick.AhoCorasick
}

func (o *pmOperator) Init(args InitArgs) error {
	if args.Val.HasMacros() {
		return fmt.Errorf("macros are not supported in phrase match values")
	}

	if len(args.Phrases) > 0 {
		o.phrases = args.Phrases
	} else if o.fromFile {
		if args.FileLoader == nil {
			return fmt.Errorf("@pmFromFile used but no file loader was given")
		}

		for _, path := range strings.Fields(args.Val.String()) {
			phrases, err := args.FileLoader(path)
			if err != nil {
				return fmt.Errorf("could not load phrase file %v: %v", path, err)
			}
			o.phrases = append(o.phrases, phrases...)
		}
	} else {
		o.phrases = strings.Fields(args.Val.String())
	}

	if len(o.phrases) == 0 {
		return fmt.Errorf("empty phrase list")
	}

	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  false,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
		DFA:                  true,
	})
	o.ac = builder.Build(o.phrases)

	return nil
}

func (o *pmOperator) Evaluate(_ EvalContext, value []byte) (bool, [][]byte, error) {
	iter := o.ac.Iter(string(value))
	if m := iter.Next(); m != nil {
		return true, [][]byte{value[m.Start():m.End()]}, nil
	}

	return false, nil, nil
}

package operators

import (
	"fmt"
	"net/netip"
	"strings"
)

// ipMatchOperator matches the input IP address against a set of addresses and CIDR ranges,
// held in a binary prefix trie. IPv4 and IPv6 get separate tries. IPv4-mapped IPv6 input
// addresses are unmapped before the lookup.
type ipMatchOperator struct {
	fromFile bool
	v4       *ipTrieNode
	v6       *ipTrieNode
}

type ipTrieNode struct {
	children [2]*ipTrieNode
	terminal bool
}

func (o *ipMatchOperator) Init(args InitArgs) error {
	if args.Val.HasMacros() {
		return fmt.Errorf("macros are not supported in ipMatch values")
	}

	var entries []string
	if o.fromFile {
		if args.FileLoader == nil {
			return fmt.Errorf("@ipMatchFromFile used but no file loader was given")
		}

		for _, path := range strings.Fields(args.Val.String()) {
			lines, err := args.FileLoader(path)
			if err != nil {
				return fmt.Errorf("could not load IP file %v: %v", path, err)
			}
			entries = append(entries, lines...)
		}
	} else {
		entries = strings.Split(args.Val.String(), ",")
	}

	o.v4 = &ipTrieNode{}
	o.v6 = &ipTrieNode{}

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}

		prefix, err := parseAddrOrCIDR(entry)
		if err != nil {
			return err
		}

		root := o.v4
		if prefix.Addr().Is6() {
			root = o.v6
		}
		root.insert(prefix)
	}

	return nil
}

func (o *ipMatchOperator) Evaluate(_ EvalContext, value []byte) (bool, [][]byte, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(string(value)))
	if err != nil {
		return false, nil, nil
	}
	addr = addr.Unmap()

	root := o.v4
	if addr.Is6() {
		root = o.v6
	}

	if root.contains(addr) {
		return true, [][]byte{value}, nil
	}

	return false, nil, nil
}

func parseAddrOrCIDR(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: %v", s, err)
		}
		return prefix.Masked(), nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid IP address %q: %v", s, err)
	}
	addr = addr.Unmap()

	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (n *ipTrieNode) insert(prefix netip.Prefix) {
	bb := prefix.Addr().AsSlice()
	cur := n
	for i := 0; i < prefix.Bits(); i++ {
		if cur.terminal {
			// A shorter prefix already covers this range.
			return
		}

		bit := bb[i/8] >> (7 - i%8) & 1
		if cur.children[bit] == nil {
			cur.children[bit] = &ipTrieNode{}
		}
		cur = cur.children[bit]
	}
	cur.terminal = true
}

func (n *ipTrieNode) contains(addr netip.Addr) bool {
	bb := addr.AsSlice()
	cur := n
	for i := 0; i < len(bb)*8; i++ {
		if cur.terminal {
			return true
		}

		bit := bb[i/8] >> (7 - i%8) & 1
		if cur.children[bit] == nil {
			return false
		}
		cur = cur.children[bit]
	}
	return cur.terminal
}

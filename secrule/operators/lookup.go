package operators

import (
	ast "secwaf/secrule/ast"

	"fmt"
	"net/netip"
	"strings"
)

// geoLookupOperator resolves the input IP address through the GeoDB and fills the GEO collection.
// It matches when the lookup succeeds.
type geoLookupOperator struct{}

func (o *geoLookupOperator) Init(InitArgs) error { return nil }

func (o *geoLookupOperator) Evaluate(ctx EvalContext, value []byte) (bool, [][]byte, error) {
	db := ctx.GeoDB()
	if db == nil {
		return false, nil, fmt.Errorf("no GeoIP database was configured")
	}

	data := db.GeoLookup(strings.TrimSpace(string(value)))
	if len(data) == 0 {
		return false, nil, nil
	}

	ctx.SetGeoData(data)
	return true, [][]byte{value}, nil
}

// rblOperator queries a DNS realtime blocklist for the input IP address.
// The rule value names the RBL zone. A listed address is a match.
type rblOperator struct {
	val ast.Value
}

func (o *rblOperator) Init(args InitArgs) error {
	o.val = args.Val
	return nil
}

func (o *rblOperator) Evaluate(ctx EvalContext, value []byte) (bool, [][]byte, error) {
	resolver := ctx.RBLResolver()
	if resolver == nil {
		return false, nil, fmt.Errorf("no RBL resolver was configured")
	}

	zone := o.val
	if zone.HasMacros() {
		zone = ctx.ExpandMacros(zone)
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(string(value)))
	if err != nil || !addr.Is4() {
		return false, nil, nil
	}

	name := reverseOctets(addr) + "." + zone.String()
	if resolver.Query(name) {
		return true, [][]byte{value}, nil
	}

	return false, nil, nil
}

func reverseOctets(addr netip.Addr) string {
	b := addr.As4()
	return fmt.Sprintf("%d.%d.%d.%d", b[3], b[2], b[1], b[0])
}

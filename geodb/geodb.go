// Package geodb provides a CIDR range to geographical data lookup backing the
// geoLookup-operator and the GEO collection.
package geodb

import (
	"secwaf/waf"

	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/google/btree"
	"github.com/rs/zerolog"
)

// Record is one CIDR range and the geographical data attached to it.
type Record struct {
	Prefix      netip.Prefix
	CountryCode string
	CountryName string
	Region      string
	City        string
}

type rangeItem struct {
	start  uint32
	end    uint32
	record Record
}

func (a rangeItem) Less(b btree.Item) bool {
	return a.start < b.(rangeItem).start
}

type geoDBImpl struct {
	tree   *btree.BTree
	logger zerolog.Logger
}

// NewGeoDB builds a waf.GeoDB from records.
func NewGeoDB(logger zerolog.Logger, records []Record) waf.GeoDB {
	db := &geoDBImpl{tree: btree.New(2), logger: logger}
	for _, r := range records {
		db.insert(r)
	}
	return db
}

// LoadFile builds a waf.GeoDB from a database file as named by SecGeoLookupDb.
// The format is line oriented: cidr,country_code,country_name,region,city.
func LoadFile(logger zerolog.Logger, path string) (waf.GeoDB, error) {
	bb, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read GeoIP database %v: %v", path, err)
	}

	var records []Record
	for i, line := range strings.Split(string(bb), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			return nil, fmt.Errorf("invalid GeoIP database line %d", i+1)
		}

		prefix, err := netip.ParsePrefix(fields[0])
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR on GeoIP database line %d: %v", i+1, err)
		}

		r := Record{Prefix: prefix, CountryCode: fields[1]}
		if len(fields) > 2 {
			r.CountryName = fields[2]
		}
		if len(fields) > 3 {
			r.Region = fields[3]
		}
		if len(fields) > 4 {
			r.City = fields[4]
		}

		records = append(records, r)
	}

	return NewGeoDB(logger, records), nil
}

func (db *geoDBImpl) insert(r Record) {
	if !r.Prefix.Addr().Is4() {
		// The range tree is IPv4 only, like the databases this format comes from.
		db.logger.Warn().Str("prefix", r.Prefix.String()).Msg("Skipping non-IPv4 GeoIP record")
		return
	}

	start := ipToUint32(r.Prefix.Addr())
	size := uint32(1) << (32 - r.Prefix.Bits())
	db.tree.ReplaceOrInsert(rangeItem{start: start, end: start + size - 1, record: r})
}

// GeoLookup returns the geographical data for an IP address, or nil when unknown.
func (db *geoDBImpl) GeoLookup(ipAddr string) map[string]string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ipAddr))
	if err != nil {
		return nil
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return nil
	}

	ip := ipToUint32(addr)

	var found *rangeItem
	db.tree.DescendLessOrEqual(rangeItem{start: ip}, func(item btree.Item) bool {
		ri := item.(rangeItem)
		if ri.start <= ip && ip <= ri.end {
			found = &ri
		}
		return false // Only the closest range below the address can contain it.
	})

	if found == nil {
		return nil
	}

	data := map[string]string{
		"country_code": found.record.CountryCode,
	}
	if found.record.CountryName != "" {
		data["country_name"] = found.record.CountryName
	}
	if found.record.Region != "" {
		data["region"] = found.record.Region
	}
	if found.record.City != "" {
		data["city"] = found.record.City
	}

	return data
}

func ipToUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

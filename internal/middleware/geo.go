package middleware

import (
	"net/netip"

	"github.com/oschwald/geoip2-golang/v2"
	"github.com/sirupsen/logrus"
)

// Geo resolves client addresses to ISO country codes. A Geo without a
// database answers "" for every address.
type Geo struct {
	db *geoip2.Reader
}

// OpenGeo loads the GeoIP database at path. Failures disable geo checks
// rather than the server.
func OpenGeo(path string, log logrus.FieldLogger) *Geo {
	if path == "" {
		return &Geo{}
	}
	db, err := geoip2.Open(path)
	if err != nil {
		if log == nil {
			log = logrus.StandardLogger()
		}
		log.WithError(err).WithField("path", path).Warn("OpenGeo: GeoIP database load error, geo checks disabled")
		return &Geo{}
	}
	return &Geo{db: db}
}

func (g *Geo) Country(ip string) string {
	if g == nil || g.db == nil {
		return ""
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ""
	}
	record, err := g.db.City(addr)
	if err != nil {
		return ""
	}
	return record.Country.ISOCode
}

func (g *Geo) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

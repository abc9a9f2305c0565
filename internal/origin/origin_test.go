package origin

import (
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/orozarna/internal/model"
)

func mustPrefixes(t *testing.T, values ...string) []netip.Prefix {
	t.Helper()
	p, err := ParsePrefixes(values)
	require.NoError(t, err)
	return p
}

func TestClassify(t *testing.T) {
	c := NewClassifier(Config{
		LANPrefixes: mustPrefixes(t, "10.0.0.0/16", "fd00:1::/64"),
		VPNPrefixes: mustPrefixes(t, "10.0.200.0/24", "100.64.0.0/10"),
		VPNTags:     []string{"wg0"},
	})

	tests := []struct {
		name string
		md   Metadata
		want model.OriginClass
	}{
		{"lan address", Metadata{SourceAddr: netip.MustParseAddr("10.0.1.5")}, model.OriginLAN},
		{"lan ipv6", Metadata{SourceAddr: netip.MustParseAddr("fd00:1::5")}, model.OriginLAN},
		{"ipv4 mapped lan", Metadata{SourceAddr: netip.MustParseAddr("::ffff:10.0.1.5")}, model.OriginLAN},
		{"vpn range inside lan range", Metadata{SourceAddr: netip.MustParseAddr("10.0.200.7")}, model.OriginVPNRemote},
		{"vpn cgnat", Metadata{SourceAddr: netip.MustParseAddr("100.64.3.3")}, model.OriginVPNRemote},
		{"vpn interface tag on lan address", Metadata{SourceAddr: netip.MustParseAddr("10.0.1.5"), InterfaceTag: "wg0"}, model.OriginVPNRemote},
		{"public address", Metadata{SourceAddr: netip.MustParseAddr("203.0.113.9")}, model.OriginUnknown},
		{"missing address", Metadata{}, model.OriginUnknown},
		{"unspecified address", Metadata{SourceAddr: netip.MustParseAddr("0.0.0.0")}, model.OriginUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.md))
		})
	}
}

func TestClassifyLANRequiresTagWhenConfigured(t *testing.T) {
	c := NewClassifier(Config{
		LANPrefixes: mustPrefixes(t, "10.0.0.0/16"),
		LANTags:     []string{"eth-armory"},
	})

	assert.Equal(t, model.OriginLAN, c.Classify(Metadata{SourceAddr: netip.MustParseAddr("10.0.0.2"), InterfaceTag: "eth-armory"}))
	assert.Equal(t, model.OriginUnknown, c.Classify(Metadata{SourceAddr: netip.MustParseAddr("10.0.0.2"), InterfaceTag: "eth-guest"}))
	assert.Equal(t, model.OriginUnknown, c.Classify(Metadata{SourceAddr: netip.MustParseAddr("10.0.0.2")}))
}

func TestClassifyEmptyConfigFailsClosed(t *testing.T) {
	c := NewClassifier(Config{})
	assert.Equal(t, model.OriginUnknown, c.Classify(Metadata{SourceAddr: netip.MustParseAddr("127.0.0.1")}))
}

func TestParsePrefix(t *testing.T) {
	p, err := ParsePrefix("192.168.1.7")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.7/32", p.String())

	p, err = ParsePrefix("192.168.1.7/24")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0/24", p.String())

	_, err = ParsePrefix("not-an-ip")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	r := Resolver{TrustedProxies: mustPrefixes(t, "127.0.0.1")}

	t.Run("untrusted peer headers ignored", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.9:5555"
		req.Header.Set(HeaderRealIP, "10.0.0.1")
		req.Header.Set(HeaderIngressInterface, "eth-armory")

		md := r.Resolve(req)
		assert.Equal(t, netip.MustParseAddr("10.0.0.9"), md.SourceAddr)
		assert.Empty(t, md.InterfaceTag)
	})

	t.Run("trusted proxy headers used", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "127.0.0.1:5555"
		req.Header.Set(HeaderRealIP, "10.0.0.1")
		req.Header.Set(HeaderIngressInterface, "wg0")

		md := r.Resolve(req)
		assert.Equal(t, netip.MustParseAddr("10.0.0.1"), md.SourceAddr)
		assert.Equal(t, "wg0", md.InterfaceTag)
	})

	t.Run("trusted proxy with bad real ip", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "127.0.0.1:5555"
		req.Header.Set(HeaderRealIP, "garbage")

		md := r.Resolve(req)
		assert.False(t, md.SourceAddr.IsValid())
	})
}

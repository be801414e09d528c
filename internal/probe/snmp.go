package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// IF-MIB octet counter columns; the interface index is appended.
const (
	oidIfInOctets    = ".1.3.6.1.2.1.2.2.1.10"
	oidIfOutOctets   = ".1.3.6.1.2.1.2.2.1.16"
	oidIfHCInOctets  = ".1.3.6.1.2.1.31.1.1.1.6"
	oidIfHCOutOctets = ".1.3.6.1.2.1.31.1.1.1.10"
)

type SNMPConfig struct {
	Target    string
	Port      uint16
	Community string
	IfIndex   int
	// HighCapacity reads the 64-bit ifHC* counters instead of the 32-bit ones.
	HighCapacity bool
	Timeout      time.Duration
}

// SNMPCounters reads the WAN interface counters from a router over SNMPv2c.
type SNMPCounters struct {
	cfg    SNMPConfig
	inOID  string
	outOID string
	width  uint
}

func NewSNMPCounters(cfg SNMPConfig) *SNMPCounters {
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Community == "" {
		cfg.Community = "public"
	}
	c := &SNMPCounters{
		cfg:    cfg,
		inOID:  fmt.Sprintf("%s.%d", oidIfInOctets, cfg.IfIndex),
		outOID: fmt.Sprintf("%s.%d", oidIfOutOctets, cfg.IfIndex),
		width:  32,
	}
	if cfg.HighCapacity {
		c.inOID = fmt.Sprintf("%s.%d", oidIfHCInOctets, cfg.IfIndex)
		c.outOID = fmt.Sprintf("%s.%d", oidIfHCOutOctets, cfg.IfIndex)
		c.width = 64
	}
	return c
}

func (c *SNMPCounters) Width() uint {
	return c.width
}

func (c *SNMPCounters) ReadOctets(ctx context.Context) (Octets, error) {
	g := &gosnmp.GoSNMP{
		Target:    c.cfg.Target,
		Port:      c.cfg.Port,
		Community: c.cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   timeoutOrDefault(c.cfg.Timeout),
		Retries:   0,
		Context:   ctx,
	}
	if err := g.Connect(); err != nil {
		return Octets{}, fmt.Errorf("snmp connect %s: %w", c.cfg.Target, err)
	}
	defer g.Conn.Close()

	res, err := g.Get([]string{c.inOID, c.outOID})
	if err != nil {
		return Octets{}, fmt.Errorf("snmp get %s: %w", c.cfg.Target, err)
	}
	if res.Error != gosnmp.NoError {
		return Octets{}, fmt.Errorf("snmp get %s: agent error %v", c.cfg.Target, res.Error)
	}

	values := make(map[string]uint64, 2)
	for _, v := range res.Variables {
		switch v.Type {
		case gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32, gosnmp.Uinteger32:
			values[normalizeOID(v.Name)] = gosnmp.ToBigInt(v.Value).Uint64()
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance:
			return Octets{}, fmt.Errorf("snmp %s %s: %w", c.cfg.Target, v.Name, ErrNotFound)
		default:
			return Octets{}, fmt.Errorf("snmp %s %s: unexpected type %v", c.cfg.Target, v.Name, v.Type)
		}
	}

	in, okIn := values[normalizeOID(c.inOID)]
	out, okOut := values[normalizeOID(c.outOID)]
	if !okIn || !okOut {
		return Octets{}, fmt.Errorf("snmp %s: incomplete response: %w", c.cfg.Target, ErrNotFound)
	}
	return Octets{In: in, Out: out}, nil
}

func normalizeOID(oid string) string {
	return strings.TrimPrefix(oid, ".")
}

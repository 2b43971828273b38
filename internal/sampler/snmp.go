package sampler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"satmon/internal/config"
	"satmon/internal/metrics"
)

// Object IDs of the standalone demodulator's status table.
const (
	oidLock        = ".1.3.6.1.4.1.37576.4.1.1.0"
	oidSignal      = ".1.3.6.1.4.1.37576.4.1.2.0"
	oidCNR         = ".1.3.6.1.4.1.37576.4.1.3.0"
	oidUncorrected = ".1.3.6.1.4.1.37576.4.1.4.0"
	oidBER         = ".1.3.6.1.4.1.37576.4.1.5.0"
)

var snmpOIDs = []string{oidLock, oidSignal, oidCNR, oidUncorrected, oidBER}

// snmpGetter is the transport seam; satisfied by *gosnmp.GoSNMP.
type snmpGetter interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
}

// SNMP samples a network-attached standalone receiver with one batched get.
type SNMP struct {
	cfg  *config.StandaloneConfig
	log  *logrus.Entry
	conn snmpGetter

	// belowFloor tracks which metrics currently sit below the measurement
	// floor, so each sentinel transition warns exactly once.
	belowFloor map[string]bool
}

// NewSNMP builds the adapter. The connection is opened on first use.
func NewSNMP(cfg *config.StandaloneConfig, log *logrus.Entry) *SNMP {
	return &SNMP{cfg: cfg, log: log, belowFloor: map[string]bool{}}
}

func (s *SNMP) connect() error {
	if s.conn != nil {
		return nil
	}
	g := &gosnmp.GoSNMP{
		Target:    s.cfg.Host,
		Port:      s.cfg.Port,
		Community: s.cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   time.Duration(s.cfg.TimeoutSec) * time.Second,
		Retries:   1,
	}
	if err := g.Connect(); err != nil {
		return errors.Wrap(ErrUnreachable, err.Error())
	}
	s.conn = g
	return nil
}

// Sample issues the batched get and maps the answer to a record.
func (s *SNMP) Sample(ctx context.Context) (metrics.Record, error) {
	if err := ctx.Err(); err != nil {
		return metrics.Record{}, err
	}
	if err := s.connect(); err != nil {
		return metrics.Record{}, err
	}

	pkt, err := s.conn.Get(snmpOIDs)
	if err != nil {
		return metrics.Record{}, errors.Wrap(ErrUnreachable, err.Error())
	}

	vals := map[string]string{}
	for _, v := range pkt.Variables {
		vals[v.Name] = pduString(v)
	}

	if !strings.EqualFold(strings.TrimSpace(vals[oidLock]), "locked") {
		return metrics.Record{Lock: false}, nil
	}

	// The device may unlock between answering the lock OID and the rest of
	// the batch. An empty dependent value downgrades the whole record.
	for _, oid := range []string{oidSignal, oidCNR, oidUncorrected, oidBER} {
		if strings.TrimSpace(vals[oid]) == "" {
			s.log.Debug("device unlocked mid-response; downgrading record")
			return metrics.Record{Lock: false}, nil
		}
	}

	rec := metrics.Record{Lock: true}
	rec.Level = s.floorFloat("level", vals[oidSignal])
	rec.SNR = s.floorFloat("snr", vals[oidCNR])
	rec.BER = s.floorFloat("ber", vals[oidBER])
	if n, err := strconv.ParseUint(strings.TrimSpace(vals[oidUncorrected]), 10, 64); err == nil {
		rec.PktErr = metrics.UintPtr(n)
	} else {
		return metrics.Record{}, errors.Wrapf(ErrMalformed, "packet error count %q", vals[oidUncorrected])
	}
	return rec, nil
}

// floorFloat parses one metric value. Non-numeric strings such as "< 70" are
// the device's below-measurement-floor sentinels: the metric is present but
// has no usable value, which is worth one warning per transition.
func (s *SNMP) floorFloat(name, raw string) *float64 {
	raw = strings.TrimSpace(raw)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		if !s.belowFloor[name] {
			s.belowFloor[name] = true
			s.log.WithField("value", raw).Warnf("%s below measurement floor", name)
		}
		return nil
	}
	if s.belowFloor[name] {
		s.belowFloor[name] = false
		s.log.Infof("%s back above measurement floor", name)
	}
	return metrics.FloatPtr(v)
}

func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

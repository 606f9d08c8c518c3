// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

// Package traffic reads interface counters and derives per-second rates.
package traffic

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/szym/barnacle/pkg/constants"
	"github.com/szym/barnacle/pkg/log"
	"github.com/szym/barnacle/pkg/types"
)

// Reader reads the kernel per-interface counter table
type Reader struct {
	// Path is the counter table, /proc/net/dev unless overridden in tests
	Path string
}

// NewReader returns a reader over /proc/net/dev
func NewReader() *Reader {
	return &Reader{Path: constants.ProcNetDev}
}

// Read sums counters of every interface whose name starts with prefix.
// An empty prefix or an unreadable table yields a zero sample.
func (r *Reader) Read(prefix string) types.TrafficSample {
	var sample types.TrafficSample
	if prefix == "" {
		return sample
	}

	f, err := os.Open(r.Path)
	if err != nil {
		log.Logger.Debugf("failed to read %s: %v", r.Path, err)
		return sample
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		// "wlan0: 1234 56 0 0 ..." and "wlan0:1234 56 ..." both occur
		fields := strings.Fields(strings.Replace(line, ":", " ", 1))
		if len(fields) < 11 {
			continue
		}
		sample.RxBytes += parseCounter(fields[1])
		sample.RxPackets += parseCounter(fields[2])
		sample.TxBytes += parseCounter(fields[9])
		sample.TxPackets += parseCounter(fields[10])
	}
	return sample
}

func parseCounter(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Stats tracks traffic since the start of a run
type Stats struct {
	Baseline   types.TrafficSample
	Total      types.TrafficSample
	Rate       types.TrafficSample
	LastUpdate time.Time

	// total as of LastUpdate, the reference for the next rate
	rateBase types.TrafficSample
}

// Init captures the baseline and resets totals and rates
func (s *Stats) Init(sample types.TrafficSample, now time.Time) {
	s.Baseline = sample
	s.Total = types.TrafficSample{}
	s.Rate = types.TrafficSample{}
	s.rateBase = types.TrafficSample{}
	s.LastUpdate = now
}

// Update folds a raw sample into the totals.
// The rate is left unchanged when less than a whole second has elapsed.
func (s *Stats) Update(sample types.TrafficSample, now time.Time) {
	total := diff(sample, s.Baseline)
	seconds := uint64(now.Sub(s.LastUpdate) / time.Second)
	if seconds > 0 {
		d := diff(total, s.rateBase)
		s.Rate = types.TrafficSample{
			RxBytes:   d.RxBytes / seconds,
			RxPackets: d.RxPackets / seconds,
			TxBytes:   d.TxBytes / seconds,
			TxPackets: d.TxPackets / seconds,
		}
		s.rateBase = total
		s.LastUpdate = now
	}
	s.Total = total
}

// Status returns the published view of the stats
func (s *Stats) Status() types.TrafficStatus {
	return types.TrafficStatus{Total: s.Total, Rate: s.Rate, LastUpdate: s.LastUpdate}
}

// diff subtracts element-wise, clamping at zero when counters were reset
func diff(cur, ref types.TrafficSample) types.TrafficSample {
	return types.TrafficSample{
		RxBytes:   sub(cur.RxBytes, ref.RxBytes),
		RxPackets: sub(cur.RxPackets, ref.RxPackets),
		TxBytes:   sub(cur.TxBytes, ref.TxBytes),
		TxPackets: sub(cur.TxPackets, ref.TxPackets),
	}
}

func sub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

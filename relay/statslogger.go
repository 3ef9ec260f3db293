// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relay

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
)

// DefaultStatsInterval is the default minimum time between two relay stats
// log lines.
const DefaultStatsInterval = 10 * time.Second

// relayStatsLogger provides periodic logging of relay outcomes.  It limits
// logging to one message per interval with the totals since the previous
// message.
type relayStatsLogger struct {
	counts      [numOutcomes]int64
	lastLogTime time.Time
	interval    time.Duration

	subsystemLogger btclog.Logger
	sync.Mutex
}

// newRelayStatsLogger returns a new relay stats logger.
// The message is templated as follows:
//
//	Processed {total} relayed {transaction|transactions} in the last
//	{timePeriod} ({outcome} {count}, ...)
func newRelayStatsLogger(interval time.Duration, logger btclog.Logger) *relayStatsLogger {
	return &relayStatsLogger{
		lastLogTime:     time.Now(),
		interval:        interval,
		subsystemLogger: logger,
	}
}

// LogOutcome records one outcome and logs the totals once the interval has
// elapsed since the last message.
func (s *relayStatsLogger) LogOutcome(outcome Outcome) {
	s.Lock()
	defer s.Unlock()

	if outcome < numOutcomes {
		s.counts[outcome]++
	}

	now := time.Now()
	duration := now.Sub(s.lastLogTime)
	if duration < s.interval {
		return
	}

	// Truncate the duration to 10s of milliseconds.
	durationMillis := int64(duration / time.Millisecond)
	tDuration := 10 * time.Millisecond * time.Duration(durationMillis/10)

	var total int64
	parts := make([]string, 0, numOutcomes)
	for o := Outcome(0); o < numOutcomes; o++ {
		total += s.counts[o]
		parts = append(parts, fmt.Sprintf("%s %d", o, s.counts[o]))
	}
	txStr := "transactions"
	if total == 1 {
		txStr = "transaction"
	}
	s.subsystemLogger.Infof("Processed %d relayed %s in the last %s (%s)",
		total, txStr, tDuration, strings.Join(parts, ", "))

	s.counts = [numOutcomes]int64{}
	s.lastLogTime = now
}

func (s *relayStatsLogger) SetLastLogTime(time time.Time) {
	s.Lock()
	s.lastLogTime = time
	s.Unlock()
}

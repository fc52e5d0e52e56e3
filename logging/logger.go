// Package logging configures logrus and provides per-node event logging.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"

	"github.com/heitortanoue/irhit/pkg/anticheat"
	"github.com/heitortanoue/irhit/pkg/hit"
)

// Init sets the global log level and output. With a file, logs go to both
// the file and stdout; otherwise warnings and errors go to stderr and the
// rest to stdout.
func Init(level, file string) error {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(io.MultiWriter(f, os.Stdout))
		return nil
	}

	log.SetOutput(io.Discard)
	log.AddHook(&writer.Hook{
		Writer:    os.Stderr,
		LogLevels: []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel, log.WarnLevel},
	})
	log.AddHook(&writer.Hook{
		Writer:    os.Stdout,
		LogLevels: []log.Level{log.InfoLevel, log.DebugLevel, log.TraceLevel},
	})
	return nil
}

// NodeLogger writes one structured line per domain event.
type NodeLogger struct {
	entry *log.Entry
}

// NewNodeLogger returns a logger tagged with the node ID and role. A nil
// logger uses the standard logrus logger.
func NewNodeLogger(logger *log.Logger, nodeID, role string) *NodeLogger {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &NodeLogger{
		entry: logger.WithFields(log.Fields{"node": nodeID, "role": role}),
	}
}

// With returns a copy tagged with a component name.
func (l *NodeLogger) With(component string) *NodeLogger {
	return &NodeLogger{entry: l.entry.WithField("component", component)}
}

// LogShot logs an IR event read by a reporter.
func (l *NodeLogger) LogShot(address uint16, command uint8, accepted bool) {
	l.entry.WithFields(log.Fields{
		"address":  fmt.Sprintf("0x%04X", address),
		"command":  fmt.Sprintf("0x%02X", command),
		"accepted": accepted,
	}).Info("IR_SHOT")
}

// LogHit logs a hit validated on the tracker.
func (l *NodeLogger) LogHit(rec hit.Record) {
	fields := log.Fields{
		"hit_id":   rec.ID.String(),
		"reporter": rec.Reporter.String(),
		"shooter":  fmt.Sprintf("0x%04X", rec.ShooterID),
		"sub_id":   fmt.Sprintf("0x%02X", rec.ShooterSubID),
		"sequence": rec.Sequence,
		"status":   rec.Verdict.Status.String(),
		"cheat":    rec.CheatAlert,
	}
	if rec.Verdict.Known() {
		fields["distance_m"] = fmt.Sprintf("%.1f", rec.Verdict.DistanceMeters)
	}
	l.entry.WithFields(fields).Info("HIT")
}

// LogDuplicate logs a retransmission dropped by the sequence guard.
func (l *NodeLogger) LogDuplicate(reporter string, seq uint8) {
	l.entry.WithFields(log.Fields{"reporter": reporter, "sequence": seq}).Debug("HIT_DUPLICATE")
}

// LogCheatTransition logs an anti-cheat gate edge.
func (l *NodeLogger) LogCheatTransition(change anticheat.StateChange) {
	entry := l.entry.WithFields(log.Fields{
		"transition": change.Transition.String(),
		"at":         change.At.UnixMilli(),
	})
	if change.Transition == anticheat.CheatDetected {
		entry.Warn("CHEAT_TRANSITION")
		return
	}
	entry.Info("CHEAT_TRANSITION")
}

// LogCheatReport logs a reporter's covered-sensor status on the tracker.
func (l *NodeLogger) LogCheatReport(reporter string, alertUntil time.Time) {
	l.entry.WithFields(log.Fields{
		"reporter":    reporter,
		"alert_until": alertUntil.Format(time.RFC3339),
	}).Warn("CHEAT_REPORTED")
}

// LogLinkRetry logs a retransmission of the pending packet.
func (l *NodeLogger) LogLinkRetry(seq uint8) {
	l.entry.WithField("sequence", seq).Debug("LINK_RETRY")
}

// LogUplink logs the outcome of one uplink publish.
func (l *NodeLogger) LogUplink(messageID string, size int, err error) {
	entry := l.entry.WithFields(log.Fields{"message_id": messageID, "bytes": size})
	if err != nil {
		entry.WithError(err).Warn("UPLINK_FAILED")
		return
	}
	entry.Info("UPLINK_SENT")
}

// LogPeerJoin logs a fleet member joining.
func (l *NodeLogger) LogPeerJoin(peerID string) {
	l.entry.WithField("peer", peerID).Info("PEER_JOIN")
}

// LogError logs a failed operation.
func (l *NodeLogger) LogError(operation string, err error) {
	l.entry.WithField("operation", operation).WithError(err).Error("ERROR")
}

// LogWarning logs a recoverable problem.
func (l *NodeLogger) LogWarning(operation string, err error) {
	l.entry.WithField("operation", operation).WithError(err).Warn("WARNING")
}

package logging

import (
	"secwaf/waf"

	"encoding/json"

	"github.com/rs/zerolog"
)

// NewZerologResultsLogger creates a results logger that renders each triggered rule as a
// structured JSON record and hands it to zerolog.
func NewZerologResultsLogger(logger zerolog.Logger) waf.ResultsLogger {
	return &zerologResultsLogger{logger: logger}
}

type zerologResultsLogger struct {
	logger zerolog.Logger
}

type firewallLogEntry struct {
	RuleID    int                     `json:"ruleId"`
	Action    string                  `json:"action"`
	Message   string                  `json:"message"`
	RuleSetID string                  `json:"ruleSetId,omitempty"`
	Details   firewallLogDetailsEntry `json:"details"`
}

type firewallLogDetailsEntry struct {
	Data string `json:"data,omitempty"`
}

func (l *zerologResultsLogger) RuleTriggered(ruleID int, action string, msg string, logData string, ruleSetID waf.RuleSetID) {
	entry := &firewallLogEntry{
		RuleID:    ruleID,
		Action:    action,
		Message:   msg,
		RuleSetID: string(ruleSetID),
		Details:   firewallLogDetailsEntry{Data: logData},
	}

	bb, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error().Err(err).Msg("Error while marshaling JSON results log")
		return
	}

	l.logger.Info().RawJSON("firewall", bb).Msg("Rule triggered")
}

// Package export writes per-connection outcomes and run summaries to disk.
package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"connswarm/internal/swarm"
)

// CSV exports one row per connection slot.
// Schema: slot,connectionId,success,connectTimeMs,retries,finalAttempt,
// active,disconnectedAt,reason,durationMs,spontaneous,error
func CSV(outcomes []swarm.ConnectionOutcome, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"slot", "connectionId", "success", "connectTimeMs", "retries",
		"finalAttempt", "active", "disconnectedAt", "reason", "durationMs",
		"spontaneous", "error",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, out := range outcomes {
		disconnectedAt := ""
		if !out.DisconnectedAt.IsZero() {
			disconnectedAt = out.DisconnectedAt.Format(time.RFC3339Nano)
		}

		record := []string{
			strconv.Itoa(out.Slot),
			out.ConnectionID,
			strconv.FormatBool(out.Success),
			strconv.FormatInt(out.ConnectionTime.Milliseconds(), 10),
			strconv.Itoa(out.RetryCount),
			strconv.FormatBool(out.FinalAttempt),
			strconv.FormatBool(out.IsActive),
			disconnectedAt,
			out.DisconnectionReason,
			strconv.FormatInt(out.ConnectionDuration.Milliseconds(), 10),
			strconv.FormatBool(out.SpontaneousDisconnect),
			out.ErrorMessage,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	return nil
}

// JSON exports the full outcome list.
func JSON(outcomes []swarm.ConnectionOutcome, filename string) error {
	data, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// Summary exports the aggregate view next to the raw outcomes.
func Summary(outcomes []swarm.ConnectionOutcome, filename string) error {
	data, err := json.MarshalIndent(swarm.Aggregate(outcomes), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

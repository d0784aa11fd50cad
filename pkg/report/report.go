// Package report turns terminal scan payloads into renderable
// classifications. Everything here is a pure transform: no network, no
// timers, no recomputation of server-side results.
package report

import (
	"errors"
	"fmt"

	"github.com/plagiascan/plagiascan-cli/pkg/api"
)

// Band is the rendered severity of a plagiarism score.
type Band string

const (
	BandLow      Band = "low"
	BandModerate Band = "moderate"
	BandHigh     Band = "high"
)

// BandFor maps a 0-100 plagiarism score to its severity band.
// Boundaries belong to the higher band: 20 is moderate, 50 is high.
func BandFor(score float64) Band {
	switch {
	case score < 20:
		return BandLow
	case score < 50:
		return BandModerate
	default:
		return BandHigh
	}
}

// ErrNotTerminal is returned when classifying a scan that has not
// finished.
var ErrNotTerminal = errors.New("scan has not finished")

// Classification is the renderable interpretation of a terminal scan.
type Classification struct {
	Band          Band
	Score         float64
	TotalChunks   int
	MatchedChunks int

	// Matches keeps server order; the client never re-sorts them.
	Matches []api.Match

	// AI relays the server's AI-detection sub-result untouched.
	AI *api.AIDetection

	// Failed marks a server-declared terminal failure, with the
	// server's message in Error. Distinct from any transport error.
	Failed bool
	Error  string
}

// Classify interprets a terminal scan record.
func Classify(scan api.Scan) (Classification, error) {
	switch scan.Status {
	case api.ScanFailed:
		c := Classification{Failed: true, Error: "unknown error"}
		if scan.Report != nil && scan.Report.Error != "" {
			c.Error = scan.Report.Error
		}
		return c, nil
	case api.ScanCompleted:
	default:
		return Classification{}, fmt.Errorf("%w: status %q", ErrNotTerminal, scan.Status)
	}

	c := Classification{
		Band:  BandFor(scan.Score),
		Score: scan.Score,
	}
	if r := scan.Report; r != nil {
		c.TotalChunks = r.TotalChunks
		c.MatchedChunks = r.MatchedChunks
		c.Matches = append([]api.Match(nil), r.Matches...)
		c.AI = r.AIDetection
	}
	return c, nil
}

// Summary is the one-line verdict shown next to the score.
func (c Classification) Summary() string {
	if c.Failed {
		return "Scan failed: " + c.Error
	}
	switch c.Band {
	case BandLow:
		return "Excellent - minimal plagiarism detected"
	case BandModerate:
		return "Moderate - review flagged sections"
	default:
		return "High - significant plagiarism detected"
	}
}

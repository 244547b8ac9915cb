// Package interpret turns a recognition report into the note text
// written back to the document.
package interpret

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sigval/pkg/recognition"
)

// Document statuses the recognition endpoint is known to produce.
const (
	StatusComplete   = "Complete"
	StatusIncomplete = "Incomplete"
	StatusOnHold     = "OnHold"
)

// ErrUnknownStatus marks a report whose document status is outside the
// known set. Treated as a fatal interpretation failure.
var ErrUnknownStatus = eris.New("unknown document status")

// Interpret renders the validation note for one recognition result.
// Complete documents get the base note only; Incomplete and OnHold
// documents get one extra line per page that still has required zones
// unsigned. Any other status is an interpretation failure.
func Interpret(result *recognition.Result, taskID string) (string, error) {
	report := result.DocumentReport

	note := fmt.Sprintf(
		"Identifi Signature Validation process checked %d pages with document status %s. (Reference#: %s)",
		report.PageCount, report.Status, taskID,
	)

	switch report.Status {
	case StatusComplete:
		return note, nil
	case StatusIncomplete, StatusOnHold:
		for _, line := range unsignedLines(result.Pages) {
			note += "  " + line
		}
		return note, nil
	default:
		return "", eris.Wrapf(ErrUnknownStatus, "interpret: status %q", report.Status)
	}
}

// unsignedLines builds one line per page that has unsigned required
// zones, pages in ascending order. Skipped and Unclear zones never
// count, whatever their setting.
func unsignedLines(pages []recognition.Page) []string {
	signersByPage := make(map[int][]int)
	for _, page := range pages {
		for _, zone := range page.Zones {
			if zone.Status == recognition.ZoneUnsigned && zone.ZoneSetting == recognition.SettingRequired {
				signersByPage[page.PageNumber] = append(signersByPage[page.PageNumber], zone.SignerNumber)
			}
		}
	}

	pageNumbers := make([]int, 0, len(signersByPage))
	for p := range signersByPage {
		pageNumbers = append(pageNumbers, p)
	}
	sort.Ints(pageNumbers)

	lines := make([]string, 0, len(pageNumbers))
	for _, p := range pageNumbers {
		signers := make([]string, 0, len(signersByPage[p]))
		for _, s := range signersByPage[p] {
			signers = append(signers, fmt.Sprintf("%d", s))
		}
		lines = append(lines, fmt.Sprintf("Signer(s) [%s] on Page %d is unsigned.", strings.Join(signers, ","), p))
	}
	return lines
}

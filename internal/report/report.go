// Package report renders the outcome of a verification run as JSON and
// PDF documents.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"example.com/difgate/internal/dif"
)

// Finding records one block that failed a protection check.
type Finding struct {
	Ts       time.Time `json:"ts"`
	File     string    `json:"file,omitempty"`
	Block    uint32    `json:"block"`
	Kind     string    `json:"kind"`
	Expected string    `json:"expected,omitempty"`
	Actual   string    `json:"actual,omitempty"`
	Message  string    `json:"message"`
}

// FindingFromError converts an engine mismatch into a report finding.
func FindingFromError(file string, err *dif.Error) Finding {
	return Finding{
		Ts:       time.Now().UTC(),
		File:     file,
		Block:    err.Offset,
		Kind:     err.Type.String(),
		Expected: fmt.Sprintf("0x%X", err.Expected),
		Actual:   fmt.Sprintf("0x%X", err.Actual),
		Message:  err.Error(),
	}
}

type Summary struct {
	Total  int  `json:"total"`
	Guard  int  `json:"guard"`
	AppTag int  `json:"appTag"`
	RefTag int  `json:"refTag"`
	Data   int  `json:"data"`
	Pass   bool `json:"pass"`
}

// VerificationReport is the full record of one run over a payload.
type VerificationReport struct {
	CreatedAt time.Time `json:"createdAt"`
	File      string    `json:"file"`
	Profile   string    `json:"profile,omitempty"`

	BlockSize    uint32 `json:"blockSize"`
	MetadataSize uint32 `json:"metadataSize"`
	TotalBlocks  uint32 `json:"totalBlocks"`
	// VerifiedBlocks counts the blocks checked clean before the first
	// mismatch stopped the run.
	VerifiedBlocks uint32 `json:"verifiedBlocks"`

	// PayloadCRC32C is the checksum of the data bytes, excluding all
	// metadata, when the caller computed one.
	PayloadCRC32C string `json:"payloadCrc32c,omitempty"`

	Summary  Summary   `json:"summary"`
	Findings []Finding `json:"findings,omitempty"`
}

// Build assembles a report from the findings of a run.
func Build(file, profileID string, blockSize, mdSize, totalBlocks, verifiedBlocks uint32, findings []Finding) VerificationReport {
	rep := VerificationReport{
		CreatedAt:      time.Now().UTC(),
		File:           file,
		Profile:        profileID,
		BlockSize:      blockSize,
		MetadataSize:   mdSize,
		TotalBlocks:    totalBlocks,
		VerifiedBlocks: verifiedBlocks,
		Findings:       findings,
	}
	for _, f := range findings {
		rep.Summary.Total++
		switch f.Kind {
		case dif.ErrTypeGuard.String():
			rep.Summary.Guard++
		case dif.ErrTypeAppTag.String():
			rep.Summary.AppTag++
		case dif.ErrTypeRefTag.String():
			rep.Summary.RefTag++
		case dif.ErrTypeData.String():
			rep.Summary.Data++
		}
	}
	rep.Summary.Pass = rep.Summary.Total == 0 && verifiedBlocks == totalBlocks
	return rep
}

func SaveJSON(rep VerificationReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (VerificationReport, error) {
	var rep VerificationReport
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}

package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator"
	"github.com/rs/zerolog/log"

	"styleaiapi/models"
)

var fenceReplacer = strings.NewReplacer("```json", "", "```", "")

// CleanModelText removes every markdown code fence marker and trims the result.
func CleanModelText(raw string) string {
	return strings.TrimSpace(fenceReplacer.Replace(raw))
}

type ParseOptions struct {
	Phase Phase
	// Strict drops outfits missing a required field.
	Strict bool
}

type ParseResult struct {
	Batch   *models.OutfitBatch
	Cleaned string
	// indexes (in the model output) of outfits removed by strict validation
	Dropped []int
}

var outfitValidator = validator.New()

// ParseOutfitData turns model output into an OutfitBatch.
func ParseOutfitData(raw string, opts ParseOptions) (*ParseResult, error) {
	cleaned := CleanModelText(raw)

	var batch models.OutfitBatch
	if err := json.Unmarshal([]byte(cleaned), &batch); err != nil {
		return nil, &MalformedAnalysisError{Phase: opts.Phase, Err: err}
	}
	if len(batch.Outfits) == 0 {
		return nil, &EmptyOutfitDataError{Phase: opts.Phase}
	}

	result := &ParseResult{Batch: &batch, Cleaned: cleaned}
	if !opts.Strict {
		return result, nil
	}

	kept := batch.Outfits[:0:0]
	for i, outfit := range batch.Outfits {
		if err := outfitValidator.Struct(outfit); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("dropping outfit with missing fields")
			result.Dropped = append(result.Dropped, i)
			continue
		}
		kept = append(kept, outfit)
	}
	if len(kept) == 0 {
		return nil, &EmptyOutfitDataError{Phase: opts.Phase}
	}
	batch.Outfits = kept
	return result, nil
}

// String is used in log lines.
func (r *ParseResult) String() string {
	if r == nil || r.Batch == nil {
		return "0 outfits"
	}
	return fmt.Sprintf("%d outfits (%d dropped)", len(r.Batch.Outfits), len(r.Dropped))
}

package merge

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/internal/taxonomy"
)

// Results holds validated tags by request id. Area keys keep their area_
// prefix; route keys are bare route ids.
type Results struct {
	Areas   map[string]model.TagSet
	Routes  map[string]model.TagSet
	Skipped int
}

// Collect parses the content of every result record. Records without
// content, with an error, or whose content is not a JSON object are logged
// and skipped. Tags are read from the "llm_tags" key of the content, or
// from the whole object when that key is absent, and validated against tax.
func Collect(records []model.ResultRecord, tax *taxonomy.Taxonomy) *Results {
	if tax == nil {
		tax = taxonomy.Default()
	}
	res := &Results{
		Areas:  make(map[string]model.TagSet),
		Routes: make(map[string]model.TagSet),
	}

	for _, rec := range records {
		if rec.Error != nil {
			zap.L().Warn("merge: request failed in batch",
				zap.String("custom_id", rec.CustomID),
				zap.String("code", rec.Error.Code),
				zap.String("message", rec.Error.Message),
			)
			res.Skipped++
			continue
		}
		content := strings.TrimSpace(rec.Content())
		if content == "" {
			zap.L().Warn("merge: no content in result", zap.String("custom_id", rec.CustomID))
			res.Skipped++
			continue
		}

		tags, err := ParseContent(content)
		if err != nil {
			zap.L().Warn("merge: malformed model output",
				zap.String("custom_id", rec.CustomID),
				zap.Error(err),
			)
			res.Skipped++
			continue
		}

		tags = tax.Validate(rec.CustomID, tags)
		if model.IsAreaRequestID(rec.CustomID) {
			res.Areas[rec.CustomID] = tags
		} else {
			res.Routes[rec.CustomID] = tags
		}
	}

	zap.L().Info("merge: processed results",
		zap.Int("areas", len(res.Areas)),
		zap.Int("routes", len(res.Routes)),
		zap.Int("skipped", res.Skipped),
	)
	return res
}

// ParseContent decodes one model response. The model is asked for
// {"llm_tags": {...}}; a bare category object is accepted as well.
func ParseContent(content string) (model.TagSet, error) {
	content = stripFence(content)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil, err
	}
	payload := []byte(content)
	if inner, ok := obj["llm_tags"]; ok {
		payload = inner
	}

	tags, bad, err := model.ParseTagSet(payload)
	if err != nil {
		return nil, err
	}
	for _, cat := range bad {
		zap.L().Warn("merge: undecodable tag category", zap.String("category", cat))
	}
	return tags, nil
}

// stripFence removes a ```json fence some models wrap their answer in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

package services

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"styleaiapi/models"
)

const twoOutfits = `{"outfits":[
 {"image":"1.jpeg","top":"Black tee","bottoms":"Cargo pants","shoes":"Sneakers","accessories":"Chain","outerwear":"Denim jacket","gender":"Male","overall_aesthetic":"Street","pose_recommendation":"Arms crossed","background_setting":"Alley"},
 {"image":"2.jpeg","top":"White shirt","bottoms":"Jeans","shoes":"Loafers","accessories":"Watch","gender":"Female","overall_aesthetic":"Casual","pose_recommendation":"Walking","background_setting":"Park"}
]}`

func TestCleanModelText(t *testing.T) {
	assert.Equal(t, `{"a":1}`, CleanModelText("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, CleanModelText("  ```{\"a\":1}```  "))
	// markers are removed anywhere, not only at the edges
	assert.Equal(t, `before {"a":1} after`, CleanModelText("before ```json{\"a\":1}``` after"))
}

func TestParseOutfitDataFenced(t *testing.T) {
	res, err := ParseOutfitData("```json\n"+twoOutfits+"\n```", ParseOptions{})
	require.NoError(t, err)
	require.Len(t, res.Batch.Outfits, 2)

	first := res.Batch.Outfits[0]
	assert.Equal(t, "Black tee", first.Top)
	require.NotNil(t, first.Outerwear)
	assert.Equal(t, "Denim jacket", *first.Outerwear)
	assert.Nil(t, res.Batch.Outfits[1].Outerwear)
	assert.Equal(t, strings.TrimSpace(twoOutfits), res.Cleaned)
}

func TestParseOutfitDataMalformed(t *testing.T) {
	_, err := ParseOutfitData("Sure! Here are your outfits: {", ParseOptions{Phase: PhaseAnalysis})
	var malformed *MalformedAnalysisError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, http.StatusInternalServerError, malformed.Status())

	_, err = ParseOutfitData("not json", ParseOptions{Phase: PhaseRender})
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, http.StatusBadRequest, malformed.Status())
	assert.Equal(t, "Failed to parse JSON from GPT response", malformed.Error())
}

func TestParseOutfitDataEmpty(t *testing.T) {
	for _, raw := range []string{`{"outfits":[]}`, `{}`, `{"outfits":null}`} {
		_, err := ParseOutfitData(raw, ParseOptions{Phase: PhaseRender})
		var empty *EmptyOutfitDataError
		require.ErrorAs(t, err, &empty, raw)
		assert.Equal(t, http.StatusBadRequest, empty.Status())
	}
}

func TestParseOutfitDataStrict(t *testing.T) {
	raw := `{"outfits":[
		{"top":"Tee","bottoms":"Jeans","shoes":"Boots","accessories":"Ring","pose_recommendation":"Standing","background_setting":"Studio"},
		{"top":"Tee","bottoms":"","shoes":"Boots"}
	]}`

	lenient, err := ParseOutfitData(raw, ParseOptions{})
	require.NoError(t, err)
	assert.Len(t, lenient.Batch.Outfits, 2)

	strict, err := ParseOutfitData(raw, ParseOptions{Strict: true})
	require.NoError(t, err)
	assert.Len(t, strict.Batch.Outfits, 1)
	assert.Equal(t, []int{1}, strict.Dropped)

	_, err = ParseOutfitData(`{"outfits":[{"top":"Tee"}]}`, ParseOptions{Strict: true})
	var empty *EmptyOutfitDataError
	assert.ErrorAs(t, err, &empty)
}

func TestBuildRenderPrompt(t *testing.T) {
	jacket := "Bomber jacket"
	outfit := models.OutfitRecord{
		Top: "Black tee", Bottoms: "Cargo pants", Shoes: "Sneakers", Accessories: "Chain",
		Outerwear: &jacket, Gender: "Male", PoseRecommendation: "Arms crossed", BackgroundSetting: "Alley",
	}
	prompt := BuildRenderPrompt(outfit)
	assert.Contains(t, prompt, "- **Top:** Black tee")
	assert.Contains(t, prompt, "- **Outerwear:** Bomber jacket")
	assert.Contains(t, prompt, "pose: **Arms crossed**")
	assert.Contains(t, prompt, "gender should be **Male**")
	assert.Contains(t, prompt, "background should be: **Alley**")
	assert.Contains(t, prompt, "only be one person")

	outfit.Outerwear = nil
	assert.Contains(t, BuildRenderPrompt(outfit), "- **Outerwear:** None")
	blank := "  "
	outfit.Outerwear = &blank
	assert.Contains(t, BuildRenderPrompt(outfit), "- **Outerwear:** None")
}

func TestAnalysisPromptShape(t *testing.T) {
	assert.Contains(t, AnalysisPrompt, `"pose_recommendation"`)
	assert.Contains(t, AnalysisPrompt, `"background_setting"`)
	assert.True(t, strings.HasSuffix(AnalysisPrompt, "Provide only valid JSON. No explanations."))
}

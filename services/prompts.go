package services

import (
	"strings"
	"text/template"

	"styleaiapi/models"
)

// AnalysisPrompt is sent once per analysis, ahead of the garment images.
const AnalysisPrompt = "Step 1: Analyze each uploaded image and describe the clothing in structured JSON format. Include:\n" +
	"- **Color and texture** of the clothing.\n" +
	"- **Sleeve length** (e.g., short, long, sleeveless).\n" +
	"- **Graphic design** (e.g., skull, angel wings, gothic text).\n" +
	"- **Fit and style** (e.g., oversized, slim, vintage).\n" +
	"- **Material** (e.g., cotton, acid-wash fabric).\n" +
	"- **Aesthetic influence** (e.g., gothic streetwear, punk grunge, Y2K fashion).\n" +
	"\n" +
	"Step 2: Generate a full outfit that matches the clothing style. It should be casual and not too bold. Include:\n" +
	"- **Matching bottoms** (e.g., ripped jeans, cargo pants, shorts).\n" +
	"- **Shoes** (e.g., sneakers, combat boots, platform shoes).\n" +
	"- **Accessories** (e.g., chains, bracelets, rings, hats).\n" +
	"- **Outerwear (if necessary)** (e.g., jackets, flannels, hoodies).\n" +
	"- **Gender** (e.g. male female, unisex).\n" +
	"- **Overall aesthetic/style** (e.g., dark streetwear, vintage casual).\n" +
	"- **Pose recommendation** for the image model to follow.\n" +
	"- **Background setting** that matches the aesthetic.\n" +
	"\n" +
	"Format the response as JSON:\n" +
	"```json\n" +
	`{
  "outfits": [
    {
      "image": "1.jpeg",
      "top": "Black oversized t-shirt(half-sleeved) with angel wing design and gothic text, slightly faded vintage cotton.",
      "bottoms": "Slim-fit black leather pants with silver buckle details.",
      "shoes": "Black combat boots with a platform sole.",
      "accessories": "Layered silver chain necklace, finger rings, and a leather bracelet.",
      "outerwear": "Black distressed denim jacket with frayed edges.",
      "gender": "Male",
      "overall_aesthetic": "Gothic streetwear with punk influences.",
      "pose_recommendation": "Confident stance with arms crossed, looking slightly away.",
      "background_setting": "Neon-lit urban alley with a grunge aesthetic."
    }
  ]
}` + "\n```\n\n" +
	"Provide only valid JSON. No explanations."

var renderPromptTemplate = template.Must(template.New("render").Parse(
	`Generate a **full-body, high-fashion model wearing the EXACT outfit** as described:

- **Top:** {{.Top}}
- **Bottoms:** {{.Bottoms}}
- **Shoes:** {{.Shoes}}
- **Accessories:** {{.Accessories}}
- **Outerwear:** {{.Outerwear}}

The model should match the following pose: **{{.Pose}}**
The model's gender should be **{{.Gender}}**
The background should be: **{{.Background}}**

This is a **highly detailed fashion photoshoot image** with **realistic textures and fabric accuracy**.
Ensure the **color, material, and style exactly match** the description.
The model should be posed naturally, displaying the entire outfit clearly.
It is for an ecommerce website showcasing the outfit.
The person in the image should be a fashion model.
And in the image the person should always be **portrait**, standing along the length.
The person should not be sitting or lying down.
There should only be one person in the image.
`))

// BuildRenderPrompt fills the render template from one outfit. Missing
// outerwear is written as "None".
func BuildRenderPrompt(outfit models.OutfitRecord) string {
	outerwear := "None"
	if outfit.Outerwear != nil && strings.TrimSpace(*outfit.Outerwear) != "" {
		outerwear = *outfit.Outerwear
	}
	var b strings.Builder
	// the template only reads plain string fields
	_ = renderPromptTemplate.Execute(&b, struct {
		Top, Bottoms, Shoes, Accessories, Outerwear string
		Pose, Gender, Background                    string
	}{
		Top:         outfit.Top,
		Bottoms:     outfit.Bottoms,
		Shoes:       outfit.Shoes,
		Accessories: outfit.Accessories,
		Outerwear:   outerwear,
		Pose:        outfit.PoseRecommendation,
		Gender:      outfit.Gender,
		Background:  outfit.BackgroundSetting,
	})
	return b.String()
}

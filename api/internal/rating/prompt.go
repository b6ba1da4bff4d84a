package rating

import (
	"fmt"

	"github.com/google/generative-ai-go/genai"
)

const DefaultLanguage = "Italian"

// Instruction is the fixed text sent next to the photo.
func Instruction(language string) string {
	return fmt.Sprintf("Analyze the face in this photo. Give a beauty rating from 1 to 10. "+
		"Also give a short, positive and playful analysis and a creative title for their look. "+
		"Be respectful and focus on positive attributes. Respond in JSON format. "+
		"The response language must be %s.", language)
}

// ResponseSchema declares the three required fields of the answer.
func ResponseSchema(language string) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"rating": {
				Type:        genai.TypeNumber,
				Description: "A beauty score from 1 to 10, where 1 is the lowest and 10 the highest.",
			},
			"title": {
				Type:        genai.TypeString,
				Description: fmt.Sprintf("A creative, positive title for the person's look, in %s.", language),
			},
			"analysis": {
				Type: genai.TypeString,
				Description: fmt.Sprintf("A 2-3 sentence analysis of the facial features, positive, playful and respectful. "+
					"It must be encouraging and fun. Written in %s.", language),
			},
		},
		Required: []string{"rating", "title", "analysis"},
	}
}

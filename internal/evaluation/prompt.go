package evaluation

// responseFormat is appended to every rubric prompt so all models answer in
// the grammar Parse understands.
const responseFormat = `Score the answer from 0 to 10 and respond in exactly this format:

SCORE: X/10
FEEDBACK:
– Strengths: [one or two sentences]
– Areas for Improvement: [one or two sentences]

Do not add any other sections.`

// buildInstructions combines one rubric's prompt with the shared response
// format contract.
func buildInstructions(rubricPrompt string) string {
	return rubricPrompt + "\n\n" + responseFormat
}

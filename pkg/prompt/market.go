package prompt

import (
	"fmt"
	"strings"
)

const marketAnalysisTemplate = `
	You are a market research and business analysis expert asked to evaluate an app idea.
	Cover the market potential and business viability of the idea below.

	<app_idea>
	%s
	</app_idea>

	Structure the analysis in these sections:

	1. Market Overview: current state of the market, key trends, growth projections and market size figures where available.
	2. Target Audience Analysis: primary and secondary audiences, their demographics and behaviour, and why the app appeals to them.
	3. Competitor Analysis: direct and indirect competitors, their strengths and weaknesses, and gaps this app could fill.
	4. Potential Revenue Streams: candidate business models, their viability and rough earnings estimates.
	5. Key Challenges and Risks: development, launch and scaling obstacles, market risks and regulatory concerns.
	6. Development Recommendations: features to prioritise, acquisition and retention strategy, and a high-level roadmap.

	Be specific and actionable, cite relevant trends and statistics, and stay objective about drawbacks.
	Use a heading per section and bullet points inside sections.

	Output only the analysis, starting with <analysis> and ending with </analysis>.
`

// MarketAnalysis wraps idea in the market research prompt. The model and
// provider are echoed in a header so the upstream sees which model was asked.
func MarketAnalysis(model, provider, idea string) string {
	header := fmt.Sprintf("[Model: %s]\n\n[Provider: %s]\n\n", model, provider)
	return header + StripIndents(fmt.Sprintf(marketAnalysisTemplate, idea))
}

// StripIndents trims leading and trailing whitespace from every line and from
// the text as a whole.
func StripIndents(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

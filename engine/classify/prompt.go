package classify

import (
	"fmt"
	"unicode/utf8"

	"github.com/leadswipe/leadswipe-api/engine/domain"
)

// maxPromptRunes caps the post body sent to the model.
const maxPromptRunes = 1500

// SystemPrompt instructs the model to separate genuine requests for help from
// self-promotion and to answer with a single JSON object.
const SystemPrompt = `You review posts from Quebec entrepreneur groups on Facebook. Posts are mostly in French.

Goal: find posts where the author NEEDS HELP with one of these areas:
- video shooting or editing
- social media, community management, content creation
- automation, no-code, tool integrations
- digital marketing, branding, personal branding

Ignore requests for graphic design, accounting, insurance, real estate, logistics, legal work or construction,
unless the author describes a manual, repetitive problem that software could automate. That is an automation opportunity.

Self-promotion is never an opportunity: authors offering their services ("I can help you", "our team offers",
"contact me", portfolio links, client testimonials, promotional hashtags).
A real need reads like "je cherche", "on cherche", "avez-vous des recommandations", "j'ai besoin de",
or a problem stated without a proposed solution.

Opportunity types:
- "hiring": the author is looking for a freelancer or provider (videographer, editor, photographer,
  social media manager, content creator, marketer, ads or SEO specialist).
- "automation": the author describes a frustration or time sink that automation would solve
  (answering the same questions, copying leads between tools, client follow-ups, reminders, invoicing,
  scattered data, questions about Excel, QuickBooks or a CRM). The author may not know it can be automated.

Answer ONLY with valid JSON:
{
  "is_opportunity": true or false,
  "opportunity_type": "hiring" | "automation" | null,
  "confidence": 0.0 to 1.0,
  "category": "vidéo" | "réseaux sociaux" | "contenu" | "marketing" | "automatisation" | null,
  "short_title": "short direct title, at most 40 characters",
  "summary": "one sentence summary",
  "automation_potential": "how automation would help, when relevant",
  "reason": "short justification"
}`

// UserPrompt renders the per-post message.
func UserPrompt(p domain.Post) string {
	return fmt.Sprintf("Analyze this Facebook post:\n\nAuthor: %s\nContent: %s", p.Author, clip(p.Text, maxPromptRunes))
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

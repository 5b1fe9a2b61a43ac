package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/steveyegge/pubhub/internal/types"
)

// maxPostContent bounds the post text embedded in a response prompt
const maxPostContent = 4000

// ResponsePrompt asks for a reply to postContent in the project's persona.
// persona overrides the project persona when non-empty.
func ResponsePrompt(project *types.Project, postContent, persona string) GenerateRequest {
	if strings.TrimSpace(persona) == "" {
		persona = project.EffectivePersona()
	}
	user := fmt.Sprintf(`The user posted: "%s"

Generate a helpful, authentic response about %s: %s

Guidelines:
- Keep it under 200 words
- Be conversational and genuine
- Provide real value, not just promotion
- Mention the app naturally if it solves their problem
- Don't oversell or sound like an ad
- Ask follow-up questions if appropriate
- Use Reddit's tone (casual, friendly, direct)

Response:`, truncate(postContent, maxPostContent), project.Name, project.Description)

	return GenerateRequest{
		System:   persona,
		Messages: []Message{{Role: RoleUser, Content: user}},
	}
}

// KeywordPrompt asks for a JSON array of 5-10 lowercase search terms
func KeywordPrompt(description string) GenerateRequest {
	user := fmt.Sprintf(`Analyze this app description and extract 5-10 key terms that would help identify relevant Reddit posts. Focus on:
- Core features and functionality
- Target audience needs
- Problem being solved
- Industry/category terms
- User intent keywords

App description: "%s"

Return ONLY a JSON array of lowercase keywords without explanations. Example: ["productivity", "automation", "developers", "workflow", "efficiency"]`, description)

	return GenerateRequest{
		System:      "You are a keyword extraction expert. Return only valid JSON.",
		Messages:    []Message{{Role: RoleUser, Content: user}},
		Temperature: 0.2,
	}
}

// PostPrompt asks for a new post for forum, or an enhanced version of
// guidance when enhance is set
func PostPrompt(project *types.Project, forum, guidance string, enhance bool) GenerateRequest {
	if enhance && strings.TrimSpace(guidance) != "" {
		user := fmt.Sprintf(`Enhance this post for r/%[1]s: "%[2]s"

About the app: %[3]s - %[4]s

Guidelines:
- Maintain the core message
- Make it more engaging and Reddit-appropriate
- Add a discussion hook or question
- Follow r/%[1]s's tone and culture
- Keep promotional elements subtle
- Ensure it provides value to readers

Enhanced post:`, forum, guidance, project.Name, project.Description)
		return GenerateRequest{
			System:   "You are an expert at crafting authentic, engaging Reddit posts that provide value and generate discussion.",
			Messages: []Message{{Role: RoleUser, Content: user}},
		}
	}

	if strings.TrimSpace(guidance) == "" {
		guidance = "Create an engaging, valuable post"
	}
	user := fmt.Sprintf(`Create a Reddit post for r/%[1]s about %[2]s: %[3]s

User guidance: %[4]s

Guidelines:
- Start with a hook or interesting question
- Share a genuine story or problem you solved
- Provide real value (tips, insights, lessons learned)
- Mention the app naturally if relevant
- Keep it conversational and authentic
- End with a question to spark discussion
- Follow r/%[1]s's culture and rules
- Avoid sounding promotional or salesy

Reddit post:`, forum, project.Name, project.Description, guidance)
	return GenerateRequest{
		System:   "You are an expert at crafting authentic, valuable Reddit posts that generate meaningful discussion.",
		Messages: []Message{{Role: RoleUser, Content: user}},
	}
}

// truncate cuts s to at most max bytes on a rune boundary, marking the cut
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "... [truncated]"
}

package ai

import "fmt"

// The schema is restated on every call because no provider-side structured
// output is negotiated; the decoder treats every field as advisory.
const analysisPromptTemplate = `You are a professional resume analyst and career coach.
Analyze the resume against the job description provided below.

<resume>
%s
</resume>

<job_description>
%s
</job_description>

Respond with ONLY a valid JSON object — no markdown fences, no explanation, no trailing text.
Use exactly this schema:
{
  "match_score": <integer 0-100>,
  "hire_probability": <float 0.0-1.0>,
  "ats_flags": [<string>, ...],
  "rewritten_bullets": [<string>, ...],
  "cover_letter": <string>
}

Scoring guidelines:
- match_score: how well the resume matches the role requirements (skills, experience, keywords)
- hire_probability: estimated probability of getting an interview call (based on match quality)
- ats_flags: specific ATS issues — missing keywords, non-standard section headers, tables/graphics, etc.
- rewritten_bullets: 3-5 improved bullet points from the resume, tailored to this JD with quantified impact
- cover_letter: 3-paragraph professional cover letter addressed to the hiring team`

// BuildAnalysisPrompt sanitizes both inputs and renders the fixed
// instruction template. Deterministic for a given input pair.
func BuildAnalysisPrompt(resumeText, jdText string) string {
	return fmt.Sprintf(
		analysisPromptTemplate,
		Sanitize(resumeText, MaxResumeChars),
		Sanitize(jdText, MaxJDChars),
	)
}

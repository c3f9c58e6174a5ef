package extract

// PromptPrefix is prepended to every transcript sent to the extractor. It
// pins the schema, the defaults for missing fields and the no-fences rule.
// The decoder still assumes none of it was obeyed.
const PromptPrefix = `You are a meeting assistant. Analyze the transcript below and respond with a single JSON object, nothing else.

The JSON object must have exactly these fields:
- "action_items": array of objects, each with "task" (string), "owner" (string), "deadline" (string). Use "" for unknown owner or deadline. Use [] if there are no action items.
- "follow_up_email": string, a short follow-up email draft. Use "" if nothing to follow up on.
- "summary": string, 2-3 sentences summarizing the meeting. Use "" if the transcript is too short.
- "open_questions": array of strings, questions raised but not answered. Use [] if none.
- "proposed_solutions": array of strings, solutions proposed during the meeting. Use [] if none.

Do not wrap the JSON in markdown code fences. Do not include any text before or after the JSON object.

Transcript:
`

package compress

const quickSummaryPrompt = `Summarize this conversation in 2-3 sentences, focusing on the main topics and user's needs:

%s

Summary:`

const detailedSummaryPrompt = `Provide a detailed summary of this conversation, including:
1. Main topics discussed
2. User's requests and needs
3. Important context or preferences revealed
4. Any actionable information

Conversation:
%s

Detailed Summary:`

const factExtractionPrompt = `Extract key facts about the user from this conversation. Focus on:
- User preferences and likes/dislikes
- Personal information (name, habits, schedule)
- Recurring behaviors or patterns
- Important context for future interactions

Format as JSON list of facts with category and importance (0.0-1.0):
[
  {"fact": "...", "category": "preference|profile|habit|knowledge", "importance": 0.0-1.0},
  ...
]

Conversation:
%s

Facts (JSON only):`

const consolidationPrompt = `Consolidate these related memories into a single, comprehensive fact:

Memories:
%s

Provide:
1. Consolidated fact (single sentence)
2. Confidence level (0.0-1.0)
3. Category

Format as JSON:
{"fact": "...", "category": "...", "confidence": 0.0-1.0}

Consolidated Memory (JSON only):`

const profileExtractionPrompt = `Extract user profile information from this conversation.
Only extract information the user explicitly mentions. Do not infer or assume.

Return JSON with this structure:
{
  "name": "user's name if mentioned, otherwise null",
  "preferences": {"category": "specific preference"},
  "habits": ["habit description"],
  "schedule": {"time/day": "activity"},
  "personal_notes": ["any other relevant personal info"]
}

Conversation:
%s

Profile (JSON only):`

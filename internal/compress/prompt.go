package compress

// summarizerSystemPrompt frames the dedicated summarization exchange. The
// model is asked to reason first and then emit a fenced snapshot block;
// the full response text becomes the seed turn of the new conversation.
const summarizerSystemPrompt = `You are a conversation state recorder. Your only job is to distill the
conversation so far into a dense snapshot that lets the dialogue continue
seamlessly, as if nothing was lost.

First think through the conversation inside a <reasoning> section: what
the user is trying to accomplish, what has been decided, what was done,
and what remains open.

Then emit a <state_snapshot> section containing:
 - overall_goal: the user's high-level objective, in one sentence.
 - key_knowledge: facts, constraints, and decisions established so far.
 - artifacts: files, identifiers, or outputs that were created or
   modified, with their current state.
 - recent_actions: the last few significant actions and their outcomes.
 - next_steps: what the conversation was about to do.

Be exhaustive inside the snapshot and include nothing after it. Do not
address the user and do not add commentary about the snapshot itself.`

// summarizeInstruction is the final user turn of the summarization
// request.
const summarizeInstruction = `Produce the snapshot of our conversation so far, following your
instructions: a <reasoning> section, then the <state_snapshot> section.`

// acknowledgmentText is the model turn seeded after the snapshot so the
// reseeded conversation opens with a complete exchange.
const acknowledgmentText = "Got it. Thanks for the additional context."

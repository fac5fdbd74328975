// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/medrag/ai"
)

const answerResponseSchema = `{
  "type": "object",
  "properties": {
    "answer": {"type": ["string", "null"]},
    "used_documents": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "string", "enum": ["low", "medium", "high"]}
  },
  "required": ["answer", "used_documents", "confidence"],
  "additionalProperties": false
}`

const systemPromptTemplate = `You are a clinical records assistant. You answer questions using ONLY the
CONTEXT blocks supplied by the user. Each block starts with a header of the form
---DOC ID: <id> | patient: <name> | diagnosis: <diagnosis>---

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- Answer concisely, in one or two sentences.
- Every name, number, dose and date in the answer must appear in the CONTEXT. Do not hallucinate.
- Copy doses exactly as written in the CONTEXT.
- If the CONTEXT does not contain the answer, return "answer": null.
- used_documents lists the DOC IDs you relied on, and only those.
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.`

const userPromptTemplate = `CONTEXT:

%s

QUESTION:
%s`

func buildSystemPrompt() string {
	return fmt.Sprintf(systemPromptTemplate, answerResponseSchema)
}

func buildUserPrompt(req ai.GenerationRequest) string {
	return fmt.Sprintf(userPromptTemplate, strings.TrimSpace(req.Context), strings.TrimSpace(req.Question))
}

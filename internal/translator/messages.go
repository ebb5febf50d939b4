// Package translator transforms chat-style message lists into the content
// format expected by the Code Assist generation API. It performs raw JSON
// transformation: system prompts are merged and prepended, adjacent
// same-role messages are coalesced, and roles are mapped onto the
// user/model pair the upstream API understands.
package translator

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertMessagesToContents transforms a chat message array into a contents
// array. Input is raw JSON of the form
// [{"role":"system|user|assistant","content":"..."}], where content may also
// be a list of {"type":"text","text":"..."} blocks. The returned value is the
// raw JSON contents array.
//
// System messages are removed from the conversation, concatenated in order
// (newline-terminated) and prepended as text to the first user turn. Adjacent
// messages that map to the same upstream role are merged into one turn with
// multiple parts. Non-text content blocks are ignored.
func ConvertMessagesToContents(rawMessages []byte) []byte {
	messages := gjson.ParseBytes(rawMessages)
	if !messages.IsArray() {
		messages = messages.Get("messages")
	}

	systemInstruction := collectSystemInstruction(messages)

	out := `[]`
	currentRole := ""
	currentParts := `[]`

	flush := func() {
		if currentRole == "" {
			return
		}
		turn, _ := sjson.Set(`{}`, "role", currentRole)
		turn, _ = sjson.SetRaw(turn, "parts", currentParts)
		out, _ = sjson.SetRaw(out, "-1", turn)
		currentRole = ""
		currentParts = `[]`
	}

	messages.ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		if role == "system" {
			return true
		}
		parts := textParts(msg.Get("content"))
		if parts == `[]` {
			return true
		}

		mappedRole := "model"
		if role == "user" {
			mappedRole = "user"
		}
		if mappedRole == currentRole {
			gjson.Parse(parts).ForEach(func(_, part gjson.Result) bool {
				currentParts, _ = sjson.SetRaw(currentParts, "-1", part.Raw)
				return true
			})
			return true
		}
		flush()
		currentRole = mappedRole
		currentParts = parts
		return true
	})
	flush()

	if systemInstruction != "" {
		systemPart, _ := sjson.Set(`{}`, "text", systemInstruction)
		first := gjson.Get(out, "0")
		switch {
		case first.Exists() && first.Get("role").String() == "user":
			// Prepend to the first user turn's parts.
			parts := `[]`
			parts, _ = sjson.SetRaw(parts, "-1", systemPart)
			first.Get("parts").ForEach(func(_, part gjson.Result) bool {
				parts, _ = sjson.SetRaw(parts, "-1", part.Raw)
				return true
			})
			out, _ = sjson.SetRaw(out, "0.parts", parts)
		case first.Exists():
			// Conversation opens with a model turn: insert a user turn ahead
			// of it.
			turn, _ := sjson.SetRaw(`{"role":"user"}`, "parts.-1", systemPart)
			rebuilt := `[]`
			rebuilt, _ = sjson.SetRaw(rebuilt, "-1", turn)
			gjson.Parse(out).ForEach(func(_, existing gjson.Result) bool {
				rebuilt, _ = sjson.SetRaw(rebuilt, "-1", existing.Raw)
				return true
			})
			out = rebuilt
		default:
			// System instruction with no conversation becomes the sole user
			// turn.
			turn, _ := sjson.SetRaw(`{"role":"user"}`, "parts.-1", systemPart)
			out, _ = sjson.SetRaw(out, "-1", turn)
		}
	}

	return []byte(out)
}

// collectSystemInstruction concatenates all system message text in order,
// each segment newline-terminated.
func collectSystemInstruction(messages gjson.Result) string {
	instruction := ""
	messages.ForEach(func(_, msg gjson.Result) bool {
		if msg.Get("role").String() != "system" {
			return true
		}
		content := msg.Get("content")
		switch {
		case content.Type == gjson.String:
			instruction += content.String() + "\n"
		case content.IsArray():
			content.ForEach(func(_, item gjson.Result) bool {
				if item.Get("type").String() == "text" {
					instruction += item.Get("text").String() + "\n"
				}
				return true
			})
		}
		return true
	})
	return instruction
}

// textParts converts a message content value into a raw JSON parts array,
// keeping only text blocks. Returns "[]" when nothing usable remains.
func textParts(content gjson.Result) string {
	parts := `[]`
	switch {
	case content.Type == gjson.String:
		part, _ := sjson.Set(`{}`, "text", content.String())
		parts, _ = sjson.SetRaw(parts, "-1", part)
	case content.IsArray():
		content.ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() != "text" {
				return true
			}
			part, _ := sjson.Set(`{}`, "text", item.Get("text").String())
			parts, _ = sjson.SetRaw(parts, "-1", part)
			return true
		})
	}
	return parts
}

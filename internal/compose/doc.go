// Package compose renders merged reply sections into outbound message bodies.
//
// Sections are always rendered in a fixed order: disease check, weather,
// planting calendar, advice, then clarification or apology. Each of the first
// three carries a short bold header; the advice header appears only when
// another section comes first. The weather block always ends with the
// irrigation rule and any heat, cold or wind warnings.
//
// Detections below the composer's confidence floor, or flagged low by the
// classifier, are hedged ("I'm not certain, but this is possibly ...");
// confident detections never use that wording.
//
// Advisory prose from the model is markdown. NormalizeMarkdown walks the
// goldmark AST and emits the subset WhatsApp understands.
//
// When the joined reply is longer than the channel limit it is split on
// section boundaries, and a single oversized section is split on sentences.
package compose

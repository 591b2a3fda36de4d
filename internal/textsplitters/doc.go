// Package textsplitters provides strategies to split text for RAG ingestion.
//
// Extensibility
//
//	The package exposes a simple Splitter interface and a factory to construct
//	concrete implementations by type, allowing new methods to be added without
//	affecting callers.
//
// Implemented strategies, one per chunking_strategy a schema's embedding
// block can declare:
//   - Fixed-length (chars/tokens), backing "by_fields"
//     Diagram: |====100====||====100====||====100====|
//     Pros: Simple, fast, predictable.
//     Cons: Cuts mid-sentence; semantic drift; brittle across formats.
//     Sources: Inspired by LangChain text splitters.
//   - Sentence boundary grouping, backing "sentence"
//     Diagram: [Sentence][Sentence] | [Sentence]
//   - Paragraph boundary grouping, backing "paragraph"
//     Diagram: [Paragraph] | [Paragraph]
//   - Markdown-aware, backing "by_headings"
//     Diagram: # H1 -> chunk(s); ## H2 -> chunk(s)
package textsplitters

// Package memory provides long-term conversational memory for the agent.
//
// Every turn (one user message and the bot reply) is written to two stores:
//
//   - Journal: append-only JSONL file, the source of truth
//   - Index: persistent vector collection used for similarity search
//
// The stores are written in that order and independently. A turn whose
// embedding fails, or whose index write fails, stays in the journal only;
// the index is always a subset of the journal. Rebuild replays the journal
// into the index to close that gap.
//
// Integration:
//   - RETRIEVE phase: RetrieveRelevant before generating a reply
//   - RECORD phase: SaveTurn after the reply is produced
//
// Implementations:
//   - journal.Journal (memory/journal)
//   - chromem.Store (memory/store/chromem)
//   - ollama.Client as the Embedder, optionally wrapped by cache.Embedder
package memory

// Copyright 2025 Kadir Pekel
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

// Package corpus is a retrieval-augmented question answering backend.
//
// Documents are ingested into collections: files are parsed per format,
// chunked, embedded in batches and written to a pluggable vector store
// (chromem, Qdrant, Milvus, Chroma, Weaviate, Pinecone or Elasticsearch).
// Questions run through a staged pipeline: query rewriting (sanitization,
// expansion, HyDE), retrieval, optional LLM reranking, prompt assembly from
// stored templates and answer generation, with chain-of-thought decomposition
// for complex questions.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/kadirpekel/corpus/cmd/corpus@latest
//
// Ingest a folder and ask a question:
//
//	corpus ingest --collection docs ./documents
//	corpus search --collection docs "how is chunk overlap applied?"
//
// Or start the HTTP server:
//
//	corpus serve --config config.yaml
//
// # Packages
//
// Import specific packages to embed the pipelines:
//
//	import (
//	    "github.com/kadirpekel/corpus/pkg/ingest"
//	    "github.com/kadirpekel/corpus/pkg/search"
//	    "github.com/kadirpekel/corpus/pkg/vectorstore"
//	)
//
// Behavior is tuned per deployment, user or collection through the layered
// runtime configuration in pkg/runtimeconfig; static defaults come from the
// YAML settings in pkg/config.
package corpus

package llm

// DefaultModel is used when a caller omits a model ID.
const DefaultModel = "alibaba/tongyi-deepresearch-30b-a3b"

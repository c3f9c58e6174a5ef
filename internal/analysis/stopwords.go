package analysis

// stopWords are common English tokens excluded from keyword extraction.
// Only words longer than three characters need listing; shorter tokens are
// already dropped by the length filter.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"about", "above", "after", "again", "against", "also", "among",
		"anything", "around", "because", "been", "before", "being", "below",
		"between", "both", "cannot", "could", "does", "doing", "down",
		"during", "each", "else", "every", "everyone", "everything", "from",
		"further", "going", "gonna", "gotta", "have", "having", "here",
		"hers", "herself", "himself", "into", "itself", "just", "kind",
		"know", "like", "little", "lots", "made", "make", "many", "maybe",
		"mean", "meeting", "more", "most", "much", "myself", "need", "okay",
		"once", "only", "other", "ourselves", "over", "people", "probably",
		"really", "right", "said", "same", "should", "some", "something",
		"still", "such", "sure", "take", "team", "than", "that", "their",
		"theirs", "them", "themselves", "then", "there", "these", "they",
		"thing", "things", "think", "this", "those", "through", "time",
		"today", "under", "until", "very", "want", "week", "well", "were",
		"what", "when", "where", "which", "while", "will", "with", "would",
		"yeah", "yes", "your", "yours", "yourself",
	} {
		stopWords[w] = struct{}{}
	}
}

// IsStopWord reports whether the token is filtered from keyword extraction.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

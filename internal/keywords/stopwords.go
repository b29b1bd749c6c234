package keywords

var stopwords = NewSet([]string{
	"a", "about", "above", "after", "again", "against", "all", "also", "am", "an",
	"and", "any", "are", "as", "at", "be", "because", "been", "before", "being",
	"below", "between", "both", "but", "by", "can", "could", "did", "do", "does",
	"doing", "done", "down", "during", "each", "else", "etc", "even", "ever",
	"every", "few", "for", "from", "further", "get", "gets", "got", "had", "has",
	"have", "having", "he", "her", "here", "hers", "him", "his", "how", "however",
	"if", "in", "into", "is", "isn", "it", "its", "itself", "just", "let", "like",
	"may", "me", "might", "more", "most", "much", "must", "my", "no", "nor", "not",
	"now", "of", "off", "on", "once", "one", "only", "or", "other", "our", "ours",
	"out", "over", "own", "per", "same", "she", "should", "so", "some", "such",
	"than", "that", "the", "their", "theirs", "them", "then", "there", "these",
	"they", "this", "those", "through", "to", "too", "under", "until", "up",
	"upon", "us", "use", "used", "using", "very", "via", "was", "we", "were",
	"what", "when", "where", "whether", "which", "while", "who", "whom", "why",
	"will", "with", "within", "without", "would", "yet", "you", "your", "yours",
	"don", "doesn", "didn", "won", "wasn", "aren", "ll", "re", "ve",
})

// IsStopword reports whether word (already lowercased) carries no topical
// signal.
func IsStopword(word string) bool {
	_, ok := stopwords[word]
	return ok
}

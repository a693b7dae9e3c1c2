package resolve

import "strings"

// Domain vocabularies used to classify negation objects and detect implicit
// quantities. Kept as data so detection stays a pure string match.

var accountTypeVocab = []string{
	"savings", "saving", "checking", "current", "credit", "salary", "joint",
}

var actionVocab = []string{
	"transfer", "send", "pay", "payment", "withdraw", "deposit", "move",
}

var amountVocab = []string{
	"amount", "money", "funds", "balance", "cash",
}

// implicitPhrases maps surface phrases to implicit quantity tokens. Longer
// phrases are listed first so they win over their substrings.
var implicitPhrases = []struct {
	phrase string
	token  string
}{
	{"everything i have", "all"},
	{"all of it", "all"},
	{"all my money", "all"},
	{"my entire balance", "all"},
	{"entire balance", "all"},
	{"whole balance", "all"},
	{"everything", "all"},
	{"all of my", "all"},
	{" all ", "all"},
	{"half of it", "half"},
	{"half of my", "half"},
	{"half my", "half"},
	{" half ", "half"},
	{"as much as possible", "max"},
	{"the maximum", "max"},
	{"maximum amount", "max"},
	{" max ", "max"},
	{"whatever is left", "remaining"},
	{"what's left", "remaining"},
	{"whats left", "remaining"},
	{"the remaining", "remaining"},
	{"the rest", "remaining"},
	{"remaining balance", "remaining"},
	{" remaining ", "remaining"},
}

// negationTriggers introduce a negated clause; the grammatical object
// follows the trigger.
var negationTriggers = []string{
	"don't use", "dont use", "do not use",
	"don't touch", "dont touch", "do not touch",
	"don't take", "dont take", "do not take",
	"never use", "avoid using", "avoid my",
	"not from", "not my", "without using", "without my", "except",
}

// affirmatives and negatives classify confirmation responses.
var affirmatives = []string{
	"yes", "y", "yeah", "yep", "yup", "sure", "ok", "okay", "confirm",
	"confirmed", "correct", "go ahead", "do it", "proceed", "affirmative",
}

var negatives = []string{
	"no", "n", "nope", "nah", "wrong", "incorrect", "change", "wait",
	"stop", "negative", "not right",
}

var cancelPhrases = []string{
	"cancel", "never mind", "nevermind", "forget it", "abort", "start over",
	"quit", "exit",
}

func containsAny(text string, vocab []string) (string, bool) {
	for _, v := range vocab {
		if strings.Contains(text, v) {
			return v, true
		}
	}
	return "", false
}

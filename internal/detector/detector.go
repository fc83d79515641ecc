package detector

import (
	"math"
	"regexp"
	"strings"
)

// 检测阈值参考：整体得分0-100，越高越像机器生成的文本

var (
	sentenceSplitPattern = regexp.MustCompile(`[.!?]+`)
	wordTrimCutset       = `.,!?;:"'-`
)

// contractionPatterns 常见缩写形式，出现即视为口语化
var contractionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bdon't\b`), regexp.MustCompile(`\bcan't\b`),
	regexp.MustCompile(`\bwon't\b`), regexp.MustCompile(`\bisn't\b`),
	regexp.MustCompile(`\baren't\b`), regexp.MustCompile(`\bwasn't\b`),
	regexp.MustCompile(`\bweren't\b`), regexp.MustCompile(`\bhasn't\b`),
	regexp.MustCompile(`\bhaven't\b`), regexp.MustCompile(`\bit's\b`),
	regexp.MustCompile(`\bthat's\b`), regexp.MustCompile(`\bwhat's\b`),
	regexp.MustCompile(`\bthey're\b`), regexp.MustCompile(`\bwe're\b`),
	regexp.MustCompile(`\bI'm\b`),
}

// weightedPattern 带权重的检测模式
type weightedPattern struct {
	re      *regexp.Regexp
	label   string
	penalty float64
}

// formalTransitions 过于正式的过渡词
var formalTransitions = []weightedPattern{
	{regexp.MustCompile(`\bfurthermore\b`), "furthermore", 8},
	{regexp.MustCompile(`\bmoreover\b`), "moreover", 8},
	{regexp.MustCompile(`\bnevertheless\b`), "nevertheless", 8},
	{regexp.MustCompile(`\bnonetheless\b`), "nonetheless", 8},
	{regexp.MustCompile(`\bconsequently\b`), "consequently", 7},
	{regexp.MustCompile(`\bsubsequently\b`), "subsequently", 7},
	{regexp.MustCompile(`\badditionall?y\b`), "additionally", 5},
	{regexp.MustCompile(`\bhowever\b`), "however", 3},
	{regexp.MustCompile(`\btherefore\b`), "therefore", 4},
	{regexp.MustCompile(`\bthus\b`), "thus", 5},
	{regexp.MustCompile(`\bhence\b`), "hence", 6},
	{regexp.MustCompile(`\bparticularly\b`), "particularly", 3},
}

// aiPhrases 机器生成文本的标志性措辞
var aiPhrases = []weightedPattern{
	{regexp.MustCompile(`it is important to note`), "it is important to note", 15},
	{regexp.MustCompile(`it should be noted`), "it should be noted", 12},
	{regexp.MustCompile(`it is worth mentioning`), "it is worth mentioning", 12},
	{regexp.MustCompile(`it is essential to`), "it is essential to", 8},
	{regexp.MustCompile(`this highlights the`), "this highlights the", 6},
	{regexp.MustCompile(`this underscores`), "this underscores", 8},
	{regexp.MustCompile(`in today's world`), "in today's world", 8},
	{regexp.MustCompile(`in the modern era`), "in the modern era", 8},
	{regexp.MustCompile(`plays a crucial role`), "plays a crucial role", 8},
	{regexp.MustCompile(`plays a vital role`), "plays a vital role", 8},
	{regexp.MustCompile(`continues to be`), "continues to be", 4},
	{regexp.MustCompile(`remains a key`), "remains a key", 5},
}

// aiBuzzwords 机器生成文本偏爱的词汇
var aiBuzzwords = []weightedPattern{
	{regexp.MustCompile(`\bdelve\b`), "delve", 15},
	{regexp.MustCompile(`\btapestry\b`), "tapestry", 12},
	{regexp.MustCompile(`\blandscape\b`), "landscape", 5},
	{regexp.MustCompile(`\bseamless\b`), "seamless", 6},
	{regexp.MustCompile(`\brobust\b`), "robust", 5},
	{regexp.MustCompile(`\binnovative\b`), "innovative", 4},
	{regexp.MustCompile(`\bholistic\b`), "holistic", 8},
	{regexp.MustCompile(`\bsynergy\b`), "synergy", 10},
	{regexp.MustCompile(`\bparadigm\b`), "paradigm", 10},
	{regexp.MustCompile(`\bcutting-edge\b`), "cutting-edge", 8},
	{regexp.MustCompile(`\bstate-of-the-art\b`), "state-of-the-art", 8},
	{regexp.MustCompile(`\bevolving\b`), "evolving", 3},
	{regexp.MustCompile(`\bdynamic\b`), "dynamic", 3},
	{regexp.MustCompile(`\bstrategic\b`), "strategic", 3},
}

// Score 计算文本的机器生成可能性得分（0-100）
// 综合六类信号：句长均匀度、词汇多样性、正式程度、句首重复、
// 标志性措辞和偏爱词汇。纯函数，相同输入总是得到相同输出
func Score(text string) (float64, []string) {
	var detected []string
	textLower := strings.ToLower(text)
	words := strings.Fields(text)
	wordCount := len(words)

	if wordCount < 5 {
		return 0, []string{"text_too_short"}
	}

	sentences := splitSentences(text)

	// 1. 句长均匀度：人写的句子长短起伏更大
	var burstinessScore float64
	if len(sentences) >= 2 {
		lengths := make([]float64, len(sentences))
		var sum float64
		for i, s := range sentences {
			lengths[i] = float64(len(strings.Fields(s)))
			sum += lengths[i]
		}
		avg := sum / float64(len(lengths))

		if avg > 0 {
			var variance float64
			for _, l := range lengths {
				variance += (l - avg) * (l - avg)
			}
			variance /= float64(len(lengths))
			cv := math.Sqrt(variance) / avg

			switch {
			case cv < 0.25:
				burstinessScore = 35
				detected = append(detected, "very_uniform_sentences")
			case cv < 0.40:
				burstinessScore = 20
				detected = append(detected, "uniform_sentences")
			case cv < 0.55:
				burstinessScore = 10
				detected = append(detected, "slightly_uniform")
			}
		}
	}

	// 2. 词汇多样性（type-token ratio）
	var lexicalScore float64
	uniqueWords := make(map[string]struct{})
	for _, w := range words {
		if len(w) > 2 {
			uniqueWords[strings.Trim(strings.ToLower(w), wordTrimCutset)] = struct{}{}
		}
	}
	ttr := float64(len(uniqueWords)) / float64(wordCount)
	switch {
	case ttr < 0.45:
		lexicalScore = 25
		detected = append(detected, "low_vocabulary_diversity")
	case ttr < 0.55:
		lexicalScore = 15
		detected = append(detected, "moderate_vocabulary_diversity")
	case ttr < 0.65:
		lexicalScore = 8
	}

	// 3. 正式程度：长文本没有任何缩写形式，加上过渡词权重
	var formalityScore float64
	hasContractions := false
	for _, p := range contractionPatterns {
		if p.MatchString(text) {
			hasContractions = true
			break
		}
	}
	if wordCount > 30 && !hasContractions {
		formalityScore += 15
		detected = append(detected, "no_contractions")
	}
	for _, wp := range formalTransitions {
		if wp.re.MatchString(textLower) {
			formalityScore += wp.penalty
			detected = append(detected, "formal:"+wp.label)
		}
	}
	formalityScore = math.Min(formalityScore, 40)

	// 4. 句首重复
	var starterScore float64
	if len(sentences) >= 3 {
		starters := make([]string, 0, len(sentences))
		for _, s := range sentences {
			fields := strings.Fields(s)
			if len(fields) > 0 {
				starters = append(starters, strings.ToLower(fields[0]))
			}
		}

		counts := make(map[string]int)
		order := make([]string, 0, len(starters))
		for _, s := range starters {
			if counts[s] == 0 {
				order = append(order, s)
			}
			counts[s]++
		}

		for _, starter := range order {
			count := counts[starter]
			ratio := float64(count) / float64(len(starters))
			if ratio >= 0.5 {
				starterScore += 20
				detected = append(detected, "repetitive_starter:"+starter)
			} else if ratio >= 0.33 && count >= 2 {
				starterScore += 10
				detected = append(detected, "common_starter:"+starter)
			}
		}
	}
	starterScore = math.Min(starterScore, 25)

	// 5. 标志性措辞
	var phraseScore float64
	for _, wp := range aiPhrases {
		if wp.re.MatchString(textLower) {
			phraseScore += wp.penalty
			detected = append(detected, "ai_phrase:"+wp.label)
		}
	}
	phraseScore = math.Min(phraseScore, 35)

	// 6. 偏爱词汇，重复出现按最多两次计
	var buzzwordScore float64
	for _, wp := range aiBuzzwords {
		count := len(wp.re.FindAllString(textLower, -1))
		if count > 0 {
			buzzwordScore += wp.penalty * math.Min(float64(count), 2)
			detected = append(detected, "buzzword:"+wp.label)
		}
	}
	buzzwordScore = math.Min(buzzwordScore, 30)

	// 7. 逗号密度：机器生成的长复合句逗号偏多
	var commaScore float64
	commaDensity := float64(strings.Count(text, ",")) / float64(wordCount)
	if commaDensity > 0.12 {
		commaScore = 10
		detected = append(detected, "high_comma_density")
	} else if commaDensity > 0.08 {
		commaScore = 5
	}

	total := burstinessScore + lexicalScore + formalityScore + starterScore + phraseScore + buzzwordScore + commaScore

	// 短文本信号不足，按比例折减
	switch {
	case wordCount < 50:
		total = math.Min(total*0.8, 100)
	case wordCount < 100:
		total = math.Min(total*0.9, 100)
	default:
		total = math.Min(total, 100)
	}

	return math.Round(total*100) / 100, detected
}

// splitSentences 按句末标点切分并丢弃过短的片段
func splitSentences(text string) []string {
	parts := sentenceSplitPattern.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) > 3 {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

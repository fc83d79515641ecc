package detector

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/tender-response-system/internal/llm"
)

// Intensity 改写力度
type Intensity string

const (
	// IntensityLight 轻度改写
	IntensityLight Intensity = "light"
	// IntensityBalanced 均衡改写
	IntensityBalanced Intensity = "balanced"
	// IntensityAggressive 重度改写
	IntensityAggressive Intensity = "aggressive"
)

// synonymIntensity 改写力度对应的同义词替换概率
func synonymIntensity(intensity Intensity) float64 {
	switch intensity {
	case IntensityLight:
		return 0.2
	case IntensityAggressive:
		return 0.5
	default:
		return 0.35
	}
}

// synonyms 同义词库，按原词查找
var synonyms = map[string][]string{
	// 动词
	"use":         {"employ", "apply", "adopt", "make use of"},
	"utilize":     {"use", "employ", "apply", "harness"},
	"leverage":    {"use", "employ", "capitalize on", "take advantage of"},
	"implement":   {"execute", "carry out", "put into practice", "deploy"},
	"facilitate":  {"enable", "help", "assist", "support"},
	"enhance":     {"improve", "boost", "strengthen", "elevate"},
	"optimize":    {"improve", "refine", "fine-tune", "streamline"},
	"achieve":     {"accomplish", "attain", "reach", "realize"},
	"ensure":      {"guarantee", "make sure", "confirm", "secure"},
	"provide":     {"offer", "supply", "deliver", "give"},
	"enable":      {"allow", "permit", "let", "make possible"},
	"demonstrate": {"show", "display", "illustrate", "prove"},
	"establish":   {"set up", "create", "found", "build"},
	"maintain":    {"keep", "preserve", "sustain", "uphold"},
	"require":     {"need", "demand", "call for"},
	"develop":     {"create", "build", "design", "craft"},
	"consider":    {"think about", "examine", "look at", "review"},
	"evaluate":    {"assess", "analyze", "examine", "review"},
	"indicate":    {"show", "suggest", "point to", "reveal"},
	"address":     {"tackle", "handle", "deal with", "resolve"},

	// 形容词
	"comprehensive": {"complete", "thorough", "full", "extensive"},
	"robust":        {"strong", "solid", "sturdy", "reliable"},
	"innovative":    {"new", "novel", "creative", "original"},
	"significant":   {"major", "important", "notable", "considerable"},
	"essential":     {"vital", "crucial", "key", "necessary"},
	"effective":     {"successful", "productive", "efficient"},
	"efficient":     {"effective", "productive", "streamlined"},
	"various":       {"different", "diverse", "several", "multiple"},
	"complex":       {"complicated", "intricate", "sophisticated"},
	"critical":      {"crucial", "vital", "key", "important"},
	"substantial":   {"significant", "considerable", "major"},
	"pivotal":       {"key", "crucial", "central", "vital"},
	"paramount":     {"supreme", "top", "chief", "primary"},
	"seamless":      {"smooth", "effortless", "fluid"},
	"strategic":     {"planned", "calculated", "deliberate"},
	"dynamic":       {"active", "changing", "fluid", "energetic"},
	"evolving":      {"developing", "growing", "changing"},

	// 副词
	"significantly": {"greatly", "considerably", "substantially"},
	"effectively":   {"successfully", "well", "efficiently"},
	"subsequently":  {"later", "afterward", "then", "next"},
	"consequently":  {"as a result", "therefore", "thus"},
	"additionally":  {"also", "plus", "besides", "as well"},
	"furthermore":   {"also", "in addition", "plus"},
	"however":       {"but", "yet", "still", "though"},
	"therefore":     {"so", "thus", "hence", "as a result"},
	"moreover":      {"also", "besides", "in addition", "plus"},
	"particularly":  {"especially", "specifically", "notably"},
}

// phraseParaphrase 短语及其替代表达
type phraseParaphrase struct {
	re           *regexp.Regexp
	alternatives []string
}

// phraseParaphrases 啰嗦短语的简洁替代，固定顺序保证可重现
var phraseParaphrases = []phraseParaphrase{
	{regexp.MustCompile(`(?i)it is important to note that`), []string{"notably", "", "keep in mind that"}},
	{regexp.MustCompile(`(?i)it should be noted that`), []string{"note that", "importantly", ""}},
	{regexp.MustCompile(`(?i)in order to`), []string{"to", "so as to", "for"}},
	{regexp.MustCompile(`(?i)due to the fact that`), []string{"because", "since", "as"}},
	{regexp.MustCompile(`(?i)at this point in time`), []string{"now", "currently", "at present"}},
	{regexp.MustCompile(`(?i)in the event that`), []string{"if", "should", "in case"}},
	{regexp.MustCompile(`(?i)for the purpose of`), []string{"to", "for"}},
	{regexp.MustCompile(`(?i)with regard to`), []string{"about", "regarding", "concerning"}},
	{regexp.MustCompile(`(?i)in terms of`), []string{"regarding", "concerning", "for"}},
	{regexp.MustCompile(`(?i)a large number of`), []string{"many", "numerous", "lots of"}},
	{regexp.MustCompile(`(?i)a significant amount of`), []string{"much", "considerable"}},
	{regexp.MustCompile(`(?i)on the other hand`), []string{"however", "but", "conversely"}},
	{regexp.MustCompile(`(?i)as a result of`), []string{"because of", "due to", "from"}},
	{regexp.MustCompile(`(?i)in light of`), []string{"given", "considering", "because of"}},
	{regexp.MustCompile(`(?i)with respect to`), []string{"regarding", "about", "concerning"}},
	{regexp.MustCompile(`(?i)in accordance with`), []string{"following", "per", "according to"}},
	{regexp.MustCompile(`(?i)prior to`), []string{"before", "ahead of"}},
	{regexp.MustCompile(`(?i)subsequent to`), []string{"after", "following"}},
	{regexp.MustCompile(`(?i)the fact that`), []string{"that", "how"}},
	{regexp.MustCompile(`(?i)continues to be`), []string{"remains", "stays", "is still"}},
	{regexp.MustCompile(`(?i)plays a crucial role`), []string{"is key", "matters greatly", "is vital"}},
	{regexp.MustCompile(`(?i)plays a vital role`), []string{"is essential", "is key"}},
	{regexp.MustCompile(`(?i)plays an important role`), []string{"matters", "is significant"}},
}

// markerReplacement 机器偏爱词汇的朴素替代
type markerReplacement struct {
	re          *regexp.Regexp
	replacement string
}

// aiWordReplacements 逐词替换表，固定顺序保证可重现
var aiWordReplacements = []markerReplacement{
	{regexp.MustCompile(`(?i)\bdelve\b`), "explore"},
	{regexp.MustCompile(`(?i)\btapestry\b`), "mix"},
	{regexp.MustCompile(`(?i)\brealm\b`), "area"},
	{regexp.MustCompile(`(?i)\blandscape\b`), "field"},
	{regexp.MustCompile(`(?i)\bjourney\b`), "process"},
	{regexp.MustCompile(`(?i)\bunlock\b`), "discover"},
	{regexp.MustCompile(`(?i)\bempower\b`), "enable"},
	{regexp.MustCompile(`(?i)\bseamless\b`), "smooth"},
	{regexp.MustCompile(`(?i)\brobust\b`), "strong"},
	{regexp.MustCompile(`(?i)\bholistic\b`), "complete"},
	{regexp.MustCompile(`(?i)\bsynergy\b`), "cooperation"},
	{regexp.MustCompile(`(?i)\bparadigm\b`), "approach"},
	{regexp.MustCompile(`(?i)\binnovative\b`), "new"},
	{regexp.MustCompile(`(?i)\bcutting-edge\b`), "modern"},
	{regexp.MustCompile(`(?i)\bstate-of-the-art\b`), "latest"},
	{regexp.MustCompile(`(?i)\bgroundbreaking\b`), "major"},
	{regexp.MustCompile(`(?i)\brevolutionary\b`), "significant"},
	{regexp.MustCompile(`(?i)\bunprecedented\b`), "unique"},
	{regexp.MustCompile(`(?i)\bdynamic\b`), "active"},
	{regexp.MustCompile(`(?i)\bevolving\b`), "developing"},
	{regexp.MustCompile(`(?i)\bstrategic\b`), "planned"},
	{regexp.MustCompile(`(?i)\bleverage\b`), "use"},
	{regexp.MustCompile(`(?i)\butilize\b`), "use"},
	{regexp.MustCompile(`(?i)\bcomprehensive\b`), "complete"},
	{regexp.MustCompile(`(?i)\bpivotal\b`), "key"},
	{regexp.MustCompile(`(?i)\bparamount\b`), "vital"},
	{regexp.MustCompile(`(?i)\bfacilitate\b`), "help"},
	{regexp.MustCompile(`(?i)\bnoteworthy\b`), "important"},
	{regexp.MustCompile(`(?i)\bfortify\b`), "strengthen"},
	{regexp.MustCompile(`(?i)\bfostering\b`), "encouraging"},
	{regexp.MustCompile(`(?i)\bbolster\b`), "support"},
	{regexp.MustCompile(`(?i)\bunderscore\b`), "show"},
	{regexp.MustCompile(`(?i)\bmultifaceted\b`), "varied"},
	{regexp.MustCompile(`(?i)\bvibrant\b`), "lively"},
	{regexp.MustCompile(`(?i)\bongoing\b`), "current"},
}

// aiPhraseReplacements 整句套话的替代
var aiPhraseReplacements = []markerReplacement{
	{regexp.MustCompile(`(?i)in essence`), ""},
	{regexp.MustCompile(`(?i)at its core`), ""},
	{regexp.MustCompile(`(?i)plays a crucial role`), "is important"},
	{regexp.MustCompile(`(?i)plays a vital role`), "matters"},
	{regexp.MustCompile(`(?i)it's worth noting`), ""},
	{regexp.MustCompile(`(?i)what's more`), "also"},
	{regexp.MustCompile(`(?i)in today's world`), "today"},
	{regexp.MustCompile(`(?i)in the modern era`), "now"},
	{regexp.MustCompile(`(?i)further reinforced`), "strengthened"},
}

// contractionRules 缩写规则
var contractionRules = []markerReplacement{
	{regexp.MustCompile(`(?i)\bdo not\b`), "don't"},
	{regexp.MustCompile(`(?i)\bdoes not\b`), "doesn't"},
	{regexp.MustCompile(`(?i)\bcannot\b`), "can't"},
	{regexp.MustCompile(`(?i)\bwill not\b`), "won't"},
	{regexp.MustCompile(`(?i)\bshould not\b`), "shouldn't"},
	{regexp.MustCompile(`(?i)\bwould not\b`), "wouldn't"},
	{regexp.MustCompile(`(?i)\bcould not\b`), "couldn't"},
	{regexp.MustCompile(`(?i)\bis not\b`), "isn't"},
	{regexp.MustCompile(`(?i)\bare not\b`), "aren't"},
	{regexp.MustCompile(`(?i)\bwas not\b`), "wasn't"},
	{regexp.MustCompile(`(?i)\bwere not\b`), "weren't"},
	{regexp.MustCompile(`(?i)\bhas not\b`), "hasn't"},
	{regexp.MustCompile(`(?i)\bhave not\b`), "haven't"},
	{regexp.MustCompile(`(?i)\bit is\b`), "it's"},
	{regexp.MustCompile(`(?i)\bthat is\b`), "that's"},
	{regexp.MustCompile(`(?i)\bthere is\b`), "there's"},
	{regexp.MustCompile(`(?i)\bthey are\b`), "they're"},
	{regexp.MustCompile(`(?i)\bwe are\b`), "we're"},
}

var (
	multiSpace          = regexp.MustCompile(`\s+`)
	spaceBeforePunct    = regexp.MustCompile(`\s+([.,!?])`)
	trailingPunctuation = ".,!?;:"
)

// languageNames 语言代码到提示词用语言名的映射
var languageNames = map[string]string{
	"hin": "Hindi",
	"spa": "Spanish",
	"fra": "French",
	"arb": "Arabic",
	"deu": "German",
	"por": "Portuguese",
}

// Humanizer 文本口语化改写器
// 组合词汇替换、短语简化和缩写注入来降低机器生成得分
// 所有随机选择都来自注入的随机源，固定种子下结果可重现
type Humanizer struct {
	rng    *rand.Rand
	llm    llm.Client
	logger *logrus.Logger
}

// HumanizerOption 改写器配置选项
type HumanizerOption func(*Humanizer)

// WithRandSource 设置随机源种子
func WithRandSource(seed int64) HumanizerOption {
	return func(h *Humanizer) {
		h.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLLMClient 设置用于非英语文本的大模型客户端
func WithLLMClient(client llm.Client) HumanizerOption {
	return func(h *Humanizer) {
		h.llm = client
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) HumanizerOption {
	return func(h *Humanizer) {
		h.logger = logger
	}
}

// NewHumanizer 创建改写器实例
func NewHumanizer(opts ...HumanizerOption) *Humanizer {
	h := &Humanizer{
		rng:    rand.New(rand.NewSource(1)),
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HumanizeResult 改写结果
type HumanizeResult struct {
	Text          string   // 改写后的文本
	OriginalScore float64  // 改写前的机器生成得分
	NewScore      float64  // 改写后的机器生成得分
	Techniques    []string // 应用的改写手段
}

// Humanize 执行完整的改写流程
// 英语文本走规则改写链，非英语文本交给大模型改写
func (h *Humanizer) Humanize(ctx context.Context, text string, intensity Intensity) (*HumanizeResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	originalScore, _ := Score(text)

	info := whatlanggo.Detect(text)
	if info.Lang != whatlanggo.Eng && info.IsReliable() {
		return h.humanizeNonEnglish(ctx, text, info.Lang, originalScore)
	}

	var techniques []string
	current := text

	current, n := h.RemoveAIMarkers(current)
	if n > 0 {
		techniques = append(techniques, fmt.Sprintf("ai_markers_removed:%d", n))
	}

	current, n = h.ParaphrasePhrases(current)
	if n > 0 {
		techniques = append(techniques, fmt.Sprintf("phrases_replaced:%d", n))
	}

	current, n = h.ReplaceSynonyms(current, synonymIntensity(intensity))
	if n > 0 {
		techniques = append(techniques, fmt.Sprintf("synonyms_replaced:%d", n))
	}

	current, n = h.AddContractions(current)
	if n > 0 {
		techniques = append(techniques, fmt.Sprintf("contractions_added:%d", n))
	}

	current = cleanupWhitespace(current)
	newScore, _ := Score(current)

	return &HumanizeResult{
		Text:          current,
		OriginalScore: originalScore,
		NewScore:      newScore,
		Techniques:    techniques,
	}, nil
}

// humanizeNonEnglish 非英语文本的大模型改写
// 检测器信号针对英语，非英语得分不可靠，改写后给固定估计分
func (h *Humanizer) humanizeNonEnglish(ctx context.Context, text string, lang whatlanggo.Lang, originalScore float64) (*HumanizeResult, error) {
	langCode := whatlanggo.LangToString(lang)

	if h.llm == nil {
		h.logger.WithField("language", langCode).Warn("no LLM client configured for non-English humanization")
		return &HumanizeResult{
			Text:          text,
			OriginalScore: originalScore,
			NewScore:      originalScore,
			Techniques:    []string{"fallback_failed"},
		}, nil
	}

	langName, ok := languageNames[langCode]
	if !ok {
		langName = "its original language"
	}

	prompt := fmt.Sprintf(`You are a professional editor. Rewrite the following %s text to sound more human and less like AI.
Maintain the exact same meaning and language (%s).
Ensure the tone is natural and professional.

TEXT TO HUMANIZE:
%s

HUMANIZED TEXT:`, langName, langName, text)

	resp, err := h.llm.Generate(ctx, prompt, llm.WithGenerateTemperature(0.7))
	if err != nil {
		h.logger.WithError(err).Warn("LLM humanization fallback failed")
		return &HumanizeResult{
			Text:          text,
			OriginalScore: originalScore,
			NewScore:      originalScore,
			Techniques:    []string{"fallback_failed"},
		}, nil
	}

	return &HumanizeResult{
		Text:          strings.TrimSpace(resp.Text),
		OriginalScore: originalScore,
		NewScore:      15.0,
		Techniques:    []string{"llm_multilingual_humanize:" + langCode},
	}, nil
}

// RemoveAIMarkers 将机器偏爱的词汇和套话替换为朴素表达
func (h *Humanizer) RemoveAIMarkers(text string) (string, int) {
	result := text
	count := 0

	for _, r := range aiWordReplacements {
		if r.re.MatchString(result) {
			result = r.re.ReplaceAllString(result, r.replacement)
			count++
		}
	}

	for _, r := range aiPhraseReplacements {
		if r.re.MatchString(result) {
			result = r.re.ReplaceAllString(result, r.replacement)
			count++
		}
	}

	return cleanupWhitespace(result), count
}

// ParaphrasePhrases 将啰嗦短语替换为随机挑选的简洁表达
// 每个短语最多替换一次
func (h *Humanizer) ParaphrasePhrases(text string) (string, int) {
	result := text
	count := 0

	for _, p := range phraseParaphrases {
		if p.re.MatchString(result) {
			replacement := p.alternatives[h.rng.Intn(len(p.alternatives))]
			loc := p.re.FindStringIndex(result)
			result = result[:loc[0]] + replacement + result[loc[1]:]
			count++
		}
	}

	return result, count
}

// ReplaceSynonyms 按给定概率将词替换为随机同义词
// 保留词尾标点和首字母大小写
func (h *Humanizer) ReplaceSynonyms(text string, intensity float64) (string, int) {
	words := strings.Fields(text)
	result := make([]string, 0, len(words))
	count := 0

	for _, word := range words {
		key := strings.Trim(strings.ToLower(word), trailingPunctuation)

		alternatives, ok := synonyms[key]
		if !ok || h.rng.Float64() >= intensity {
			result = append(result, word)
			continue
		}

		replacement := alternatives[h.rng.Intn(len(alternatives))]
		if word != "" && word[0] >= 'A' && word[0] <= 'Z' {
			replacement = strings.ToUpper(replacement[:1]) + replacement[1:]
		}

		trailing := ""
		for i := len(word) - 1; i >= 0; i-- {
			if strings.ContainsRune(trailingPunctuation, rune(word[i])) {
				trailing = string(word[i]) + trailing
			} else {
				break
			}
		}

		result = append(result, replacement+trailing)
		count++
	}

	return strings.Join(result, " "), count
}

// AddContractions 随机注入自然缩写
// 每条规则有固定概率被跳过，避免全部改写显得机械
func (h *Humanizer) AddContractions(text string) (string, int) {
	result := text
	count := 0

	for _, rule := range contractionRules {
		if h.rng.Float64() <= 0.3 {
			continue
		}
		before := result
		result = rule.re.ReplaceAllString(result, rule.replacement)
		if before != result {
			count++
		}
	}

	return result, count
}

// cleanupWhitespace 压缩空白并去掉标点前的空格
func cleanupWhitespace(text string) string {
	text = multiSpace.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	return spaceBeforePunct.ReplaceAllString(text, "$1")
}

package composer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/tender-response-system/internal/detector"
	"github.com/fyerfyer/tender-response-system/internal/llm"
	"github.com/fyerfyer/tender-response-system/internal/matcher"
)

// ErrAIThresholdNotMet 精炼循环耗尽全部尝试后仍未降到AI占比上限以下
// 这是软失败，调用方应回退到纯知识库摘录应答
var ErrAIThresholdNotMet = errors.New("ai score ceiling not met after refinement attempts")

// ThresholdError 精炼循环耗尽时的详细错误
// 携带尝试次数和历次尝试中得分最低的候选文本
type ThresholdError struct {
	Attempts  int     // 已执行的尝试次数
	BestScore float64 // 最低的检测得分
	BestText  string  // 得分最低的候选文本
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("ai score %.2f still above ceiling after %d attempts", e.BestScore, e.Attempts)
}

func (e *ThresholdError) Unwrap() error {
	return ErrAIThresholdNotMet
}

// Source 应答文本片段的内容来源
type Source string

const (
	// SourceKnowledgeBase 来自知识库的内容
	SourceKnowledgeBase Source = "KNOWLEDGE_BASE"
	// SourceAIGenerated 由模型生成的内容
	SourceAIGenerated Source = "AI_GENERATED"
)

// ProvenanceItem 应答文本中单个区间的来源标注
// Start和End是字节偏移，区间互不重叠
type ProvenanceItem struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Source   Source `json:"source"`
	KBItemID string `json:"kb_item_id,omitempty"`
}

// ComposedResponse 组装完成的需求应答
// 文本非空时KBPercentage与AIPercentage之和恒为100（舍入误差内）
type ComposedResponse struct {
	Text         string
	Provenance   []ProvenanceItem
	KBPercentage float64
	AIPercentage float64
	Attempts     int  // 精炼循环实际执行的尝试次数
	NeedsReview  bool // 无知识库匹配时置位，提示人工复查
}

// ComposeOptions 应答生成的风格选项
type ComposeOptions struct {
	Style string             // 文体，如 professional
	Mode  detector.Intensity // 改写力度，同时决定提示词中的改写指令
	Tone  string             // 语气，如 professional / formal / casual
}

// DefaultComposeOptions 返回默认风格选项
func DefaultComposeOptions() ComposeOptions {
	return ComposeOptions{
		Style: "professional",
		Mode:  detector.IntensityBalanced,
		Tone:  "professional",
	}
}

const (
	// defaultMaxAIPercentage AI内容占比上限
	defaultMaxAIPercentage = 30.0
	// defaultMaxAttempts 精炼循环最大尝试次数
	defaultMaxAttempts = 10
	// minMatchScore 可用知识库匹配的最低相似度
	minMatchScore = 0.2
	// minExcerptForRefine 触发大模型精炼的摘录最短长度
	minExcerptForRefine = 30
	// minSentenceLength 参与摘录的句子最短长度
	minSentenceLength = 20
	// excerptSentenceLimit 摘录保留的句子数量
	excerptSentenceLimit = 2
	// kbOnlyCharLimit 纯知识库兜底应答的最大字符数
	kbOnlyCharLimit = 200
	// refineMaxTokens 单次精炼请求的最大生成Token数
	refineMaxTokens = 200
	// firstAttemptTemperature 首次精炼的采样温度
	firstAttemptTemperature = 0.3
	// retryTemperature 重试精炼的采样温度
	retryTemperature = 0.7
)

// minimalResponseText 无匹配时的固定占位应答
const minimalResponseText = "Please refer to our company documentation for detailed information on this requirement."

// stopwords 关键词重叠计算时忽略的常见词
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "in": {}, "to": {},
	"for": {}, "and": {}, "or": {}, "be": {}, "is": {}, "are": {},
	"must": {}, "shall": {}, "should": {}, "have": {}, "has": {}, "with": {},
}

// tenderReplacement 投标场景下需要弱化的机器腔用词
type tenderReplacement struct {
	re          *regexp.Regexp
	replacement string
}

// tenderReplacements 改写后追加应用的本地替换表
var tenderReplacements = []tenderReplacement{
	{regexp.MustCompile(`(?i)\butilize\b`), "use"},
	{regexp.MustCompile(`(?i)\bleverage\b`), "use"},
	{regexp.MustCompile(`(?i)\bfacilitate\b`), "help"},
	{regexp.MustCompile(`(?i)\bimplement\b`), "set up"},
	{regexp.MustCompile(`(?i)\bfurthermore\b`), "also"},
	{regexp.MustCompile(`(?i)\bin order to\b`), "to"},
	{regexp.MustCompile(`(?i)\bit is important to note that\b`), ""},
	{regexp.MustCompile(`(?i)\bit should be noted that\b`), ""},
}

// promptLanguages 语言代码到提示词用语言名的映射
var promptLanguages = map[whatlanggo.Lang]string{
	whatlanggo.Eng: "English",
	whatlanggo.Hin: "Hindi",
	whatlanggo.Spa: "Spanish",
	whatlanggo.Fra: "French",
	whatlanggo.Arb: "Arabic",
	whatlanggo.Deu: "German",
	whatlanggo.Por: "Portuguese",
	whatlanggo.Cmn: "Chinese (Simplified)",
}

// modeInstructions 改写力度对应的提示词指令
var modeInstructions = map[detector.Intensity]string{
	detector.IntensityLight:      "Make minimal changes. Keep as much original text as possible.",
	detector.IntensityBalanced:   "Rewrite moderately for flow and clarity.",
	detector.IntensityAggressive: "Completely rewrite for maximum human-like flow.",
}

// toneInstructions 语气对应的提示词指令
var toneInstructions = map[string]string{
	"professional": "Direct, business-like, and authoritative.",
	"casual":       "Friendly and approachable but professional.",
	"formal":       "Highly structured and sophisticated.",
	"simple":       "Clear, concise, and easy to understand.",
	"academic":     "Scholarly, precise, and objective with formal vocabulary.",
}

var (
	sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)
	extraWhitespace  = regexp.MustCompile(`\s+`)
)

// Service 应答组装服务
// 从知识库匹配结果中挑选与需求最相关的内容，
// 经大模型精炼和规则改写后输出带来源标注的应答文本
type Service struct {
	llm             llm.Client
	humanizer       *detector.Humanizer
	logger          *logrus.Logger
	maxAIPercentage float64
	maxAttempts     int
}

// Option 服务配置选项函数类型
type Option func(*Service)

// WithLLMClient 设置大模型客户端
func WithLLMClient(client llm.Client) Option {
	return func(s *Service) {
		s.llm = client
	}
}

// WithHumanizer 设置文本改写器
func WithHumanizer(h *detector.Humanizer) Option {
	return func(s *Service) {
		s.humanizer = h
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMaxAIPercentage 设置AI内容占比上限
func WithMaxAIPercentage(ceiling float64) Option {
	return func(s *Service) {
		if ceiling > 0 {
			s.maxAIPercentage = ceiling
		}
	}
}

// WithMaxAttempts 设置精炼循环最大尝试次数
func WithMaxAttempts(attempts int) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// NewService 创建应答组装服务
func NewService(opts ...Option) *Service {
	s := &Service{
		logger:          logrus.New(),
		maxAIPercentage: defaultMaxAIPercentage,
		maxAttempts:     defaultMaxAttempts,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.humanizer == nil {
		hopts := []detector.HumanizerOption{detector.WithLogger(s.logger)}
		if s.llm != nil {
			hopts = append(hopts, detector.WithLLMClient(s.llm))
		}
		s.humanizer = detector.NewHumanizer(hopts...)
	}

	return s
}

// Compose 为单条需求组装应答
// 无可用匹配时返回提示人工复查的占位应答；
// 有匹配时先提取与需求关键词重叠度最高的摘录，
// 摘录足够长且配置了大模型时走精炼循环。
// 精炼循环耗尽仍超上限时返回ErrAIThresholdNotMet，
// 调用方应改用ExcerptResponse的纯知识库应答兜底
func (s *Service) Compose(ctx context.Context, requirement string, matches []matcher.Match, opts ComposeOptions) (*ComposedResponse, error) {
	best, ok := selectBestMatch(matches)
	if !ok {
		s.logger.WithField("requirement", truncateRunes(requirement, 50)).
			Info("no usable knowledge base match, composing minimal response")
		return minimalResponse(), nil
	}

	excerpt := relevantExcerpt(requirement, best.Item.Content)

	if len(excerpt) >= minExcerptForRefine && s.llm != nil {
		refined, err := s.refine(ctx, requirement, excerpt, best.Item.ID, opts)
		if err == nil {
			return refined, nil
		}
		if errors.Is(err, ErrAIThresholdNotMet) {
			return nil, err
		}
		// 大模型不可用不致命，退回规则改写的摘录应答
		s.logger.WithError(err).Warn("llm refinement unavailable, falling back to excerpt response")
	}

	return s.excerptResponse(ctx, requirement, best, opts), nil
}

// ExcerptResponse 组装纯知识库应答，不经过大模型精炼
// 供精炼循环失败后的调用方兜底使用，永不报错
func (s *Service) ExcerptResponse(ctx context.Context, requirement string, matches []matcher.Match, opts ComposeOptions) *ComposedResponse {
	best, ok := selectBestMatch(matches)
	if !ok {
		return minimalResponse()
	}
	return s.excerptResponse(ctx, requirement, best, opts)
}

// excerptResponse 基于摘录的纯知识库应答
// 经过确定性规则改写，但来源标注保持100%知识库归属
func (s *Service) excerptResponse(ctx context.Context, requirement string, best matcher.Match, opts ComposeOptions) *ComposedResponse {
	excerpt := relevantExcerpt(requirement, best.Item.Content)
	if len(excerpt) < minSentenceLength {
		excerpt = kbOnlyText(best.Item.Content)
	}

	text := excerpt
	if result, err := s.humanizer.Humanize(ctx, excerpt, opts.Mode); err == nil {
		text = result.Text
	}
	text = applyTenderReplacements(text)

	return &ComposedResponse{
		Text: text,
		Provenance: []ProvenanceItem{
			{Start: 0, End: len(text), Source: SourceKnowledgeBase, KBItemID: best.Item.ID},
		},
		KBPercentage: 100,
		AIPercentage: 0,
	}
}

// refineState 精炼循环状态机的状态
type refineState int

const (
	stateAttempt refineState = iota
	stateScore
	stateAccept
	stateRetry
	stateExhausted
)

// refine 大模型精炼循环
// 显式状态机：ATTEMPT生成候选，SCORE改写并评分，
// 得分达标转ACCEPT，超标且还有次数转RETRY，否则转EXHAUSTED。
// 全程追踪得分最低的候选，耗尽时随错误一并返回
func (s *Service) refine(ctx context.Context, requirement string, excerpt string, kbItemID string, opts ComposeOptions) (*ComposedResponse, error) {
	langName := requirementLanguage(requirement)

	var (
		state     = stateAttempt
		attempt   int
		current   string
		score     float64
		bestText  string
		bestScore float64
		hasBest   bool
		llmErr    error
	)

	for {
		switch state {
		case stateAttempt:
			if attempt >= s.maxAttempts {
				state = stateExhausted
				continue
			}

			prompt := s.firstPrompt(requirement, excerpt, langName, opts)
			temperature := float32(firstAttemptTemperature)
			if attempt > 0 {
				prompt = s.retryPrompt(current, excerpt, langName, opts)
				temperature = retryTemperature
			}

			resp, err := s.llm.Generate(ctx, prompt,
				llm.WithGenerateMaxTokens(refineMaxTokens),
				llm.WithGenerateTemperature(temperature))
			if err != nil {
				llmErr = err
				state = stateExhausted
				continue
			}

			attempt++
			current = strings.TrimSpace(resp.Text)
			score = s.humanizeCandidate(ctx, &current, opts.Mode)
			state = stateScore

		case stateScore:
			if !hasBest || score < bestScore {
				bestText = current
				bestScore = score
				hasBest = true
			}

			s.logger.WithFields(logrus.Fields{
				"attempt":  attempt,
				"ai_score": score,
				"ceiling":  s.maxAIPercentage,
			}).Debug("refinement candidate scored")

			if score <= s.maxAIPercentage {
				state = stateAccept
			} else {
				state = stateRetry
			}

		case stateAccept:
			ai := score
			return &ComposedResponse{
				Text: current,
				Provenance: []ProvenanceItem{
					{Start: 0, End: len(current), Source: SourceKnowledgeBase, KBItemID: kbItemID},
				},
				KBPercentage: 100 - ai,
				AIPercentage: ai,
				Attempts:     attempt,
			}, nil

		case stateRetry:
			state = stateAttempt

		case stateExhausted:
			if hasBest {
				return nil, &ThresholdError{
					Attempts:  attempt,
					BestScore: bestScore,
					BestText:  bestText,
				}
			}
			return nil, fmt.Errorf("llm refinement failed: %w", llmErr)
		}
	}
}

// humanizeCandidate 对候选文本执行改写链并返回检测得分
// 得分取改写链自己的评分，本地替换在评分之后应用
func (s *Service) humanizeCandidate(ctx context.Context, text *string, mode detector.Intensity) float64 {
	result, err := s.humanizer.Humanize(ctx, *text, mode)
	if err != nil {
		score, _ := detector.Score(*text)
		*text = applyTenderReplacements(*text)
		return score
	}

	*text = applyTenderReplacements(result.Text)
	return result.NewScore
}

// firstPrompt 首次精炼的提示词
func (s *Service) firstPrompt(requirement string, excerpt string, langName string, opts ComposeOptions) string {
	return fmt.Sprintf(`You are an expert tender proposal writer.
IMPORTANT: Write the response in %s.
Rewrite the SOURCE CONTENT to directly answer the REQUIREMENT.

REQUIREMENT:
%s

SOURCE CONTENT:
%s

INSTRUCTIONS:
- %s
- Style: write as a %s tender proposal.
- Tone: %s
- Language: You MUST use %s.
- Be concise and direct (2-4 sentences max).
- Answer ONLY what the requirement asks.
- Do NOT add external marketing fluff.
- Maintain all technical facts and data from the SOURCE CONTENT.

RESPONSE:`, langName, requirement, excerpt,
		modeInstruction(opts.Mode), opts.Style, toneInstruction(opts.Tone), langName)
}

// retryPrompt 重试精炼的提示词，要求更贴近原始来源用词以压低得分
func (s *Service) retryPrompt(previous string, excerpt string, langName string, opts ComposeOptions) string {
	return fmt.Sprintf(`The previous response was flagged as having too high an AI score.
IMPORTANT: Write the response in %s.

Rewrite the text below. You MUST use more of the EXACT phrases and vocabulary from the ORIGINAL SOURCE CONTENT to lower the AI score while still following the style instructions.

PREVIOUS (REJECTED):
%s

ORIGINAL SOURCE:
%s

STYLE INSTRUCTIONS:
- Language: %s
- Mode: %s
- Tone: %s

REWRITE:`, langName, previous, excerpt,
		langName, modeInstruction(opts.Mode), toneInstruction(opts.Tone))
}

// minimalResponse 无匹配时的占位应答，完全标注为模型生成并提示人工复查
func minimalResponse() *ComposedResponse {
	return &ComposedResponse{
		Text: minimalResponseText,
		Provenance: []ProvenanceItem{
			{Start: 0, End: len(minimalResponseText), Source: SourceAIGenerated},
		},
		KBPercentage: 0,
		AIPercentage: 100,
		NeedsReview:  true,
	}
}

// selectBestMatch 选出唯一可用的最佳匹配
// 只取排名第一且相似度高于下限的匹配，保证应答聚焦
func selectBestMatch(matches []matcher.Match) (matcher.Match, bool) {
	if len(matches) == 0 {
		return matcher.Match{}, false
	}
	if matches[0].Score <= minMatchScore {
		return matcher.Match{}, false
	}
	return matches[0], true
}

// scoredSentence 参与摘录排序的句子
type scoredSentence struct {
	overlap  int
	sentence string
}

// relevantExcerpt 从知识库内容中提取与需求最相关的句子
// 以过滤停用词后的关键词重叠数排序，保留重叠度最高的前两句；
// 无任何句子与需求相关时退回内容的第一句
func relevantExcerpt(requirement string, content string) string {
	reqWords := keywordSet(requirement)

	var scored []scoredSentence
	for _, sentence := range splitSentences(content) {
		if len(sentence) < minSentenceLength {
			continue
		}
		overlap := overlapCount(reqWords, keywordSet(sentence))
		if overlap >= 1 {
			scored = append(scored, scoredSentence{overlap: overlap, sentence: sentence})
		}
	}

	if len(scored) == 0 {
		first, _, found := strings.Cut(content, ".")
		if found {
			return strings.TrimSpace(first) + "."
		}
		return strings.TrimSpace(content)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].overlap > scored[j].overlap
	})

	if len(scored) > excerptSentenceLimit {
		scored = scored[:excerptSentenceLimit]
	}

	parts := make([]string, 0, len(scored))
	for _, s := range scored {
		parts = append(parts, s.sentence)
	}
	return strings.Join(parts, " ")
}

// kbOnlyText 纯知识库兜底文本：前两个有实质内容的句子
func kbOnlyText(content string) string {
	var selected []string
	for _, sentence := range splitSentences(content) {
		if len(sentence) >= minSentenceLength {
			selected = append(selected, sentence)
		}
		if len(selected) >= excerptSentenceLimit {
			break
		}
	}

	text := strings.Join(selected, " ")
	if text == "" {
		text = truncateRunes(strings.TrimSpace(content), kbOnlyCharLimit)
	}
	return text
}

// requirementLanguage 检测需求文本的语言并返回提示词用名称
func requirementLanguage(requirement string) string {
	info := whatlanggo.Detect(requirement)
	if name, ok := promptLanguages[info.Lang]; ok && info.IsReliable() {
		return name
	}
	return "the same language as the requirement"
}

// modeInstruction 改写力度的提示词指令，未知力度按均衡处理
func modeInstruction(mode detector.Intensity) string {
	if instr, ok := modeInstructions[mode]; ok {
		return instr
	}
	return modeInstructions[detector.IntensityBalanced]
}

// toneInstruction 语气的提示词指令，未知语气按专业处理
func toneInstruction(tone string) string {
	if instr, ok := toneInstructions[tone]; ok {
		return instr
	}
	return toneInstructions["professional"]
}

// applyTenderReplacements 应用投标场景的本地替换并压缩空白
func applyTenderReplacements(text string) string {
	for _, r := range tenderReplacements {
		text = r.re.ReplaceAllString(text, r.replacement)
	}
	return strings.TrimSpace(extraWhitespace.ReplaceAllString(text, " "))
}

// keywordSet 提取小写词集合并过滤停用词
func keywordSet(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if _, skip := stopwords[w]; !skip {
			words[w] = struct{}{}
		}
	}
	return words
}

// overlapCount 两个词集合的交集大小
func overlapCount(a, b map[string]struct{}) int {
	count := 0
	for w := range a {
		if _, ok := b[w]; ok {
			count++
		}
	}
	return count
}

// splitSentences 按句号、问号、叹号切分句子，标点保留在句尾
func splitSentences(text string) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last:loc[1]]); s != "" {
			sentences = append(sentences, s)
		}
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// truncateRunes 按字符数截断文本
func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

package agents

import "slices"

// Issue is a presenting problem a generated student can have.
type Issue struct {
	Key        string
	Name       string
	Symptoms   []string
	Expression string
	// Approaches lists the approach keys that suit the issue.
	Approaches []string
}

// Approach is a counseling orientation.
type Approach struct {
	Key   string
	Name  string
	Style []string
}

var issues = []Issue{
	{
		Key: "academic_anxiety", Name: "学业焦虑",
		Symptoms:   []string{"考前失眠", "注意力难以集中", "担心挂科", "反复检查作业"},
		Expression: "老师，我最近一想到考试就特别紧张，晚上也睡不好。",
		Approaches: []string{"cognitive_behavioral_therapy", "mindfulness_therapy", "solution_focused"},
	},
	{
		Key: "social_phobia", Name: "社交恐惧",
		Symptoms:   []string{"回避集体活动", "发言时心跳加速", "害怕被评价"},
		Expression: "我不太敢在别人面前说话，上课被点名都会很慌。",
		Approaches: []string{"cognitive_behavioral_therapy", "humanistic_therapy"},
	},
	{
		Key: "depression", Name: "抑郁情绪",
		Symptoms:   []string{"情绪低落", "兴趣减退", "食欲变化", "容易疲惫"},
		Expression: "最近总觉得提不起劲，做什么都没意思。",
		Approaches: []string{"cognitive_behavioral_therapy", "humanistic_therapy", "psychoanalytic"},
	},
	{
		Key: "procrastination", Name: "拖延症",
		Symptoms:   []string{"任务堆到最后才做", "事后自责", "计划总是落空"},
		Expression: "我总是拖到最后一刻才开始做事，自己也很着急。",
		Approaches: []string{"cognitive_behavioral_therapy", "solution_focused"},
	},
	{
		Key: "ocd_symptoms", Name: "强迫症状",
		Symptoms:   []string{"反复洗手", "反复确认门锁", "控制不住的念头"},
		Expression: "有些事情我明知道没必要，可就是忍不住一遍遍去做。",
		Approaches: []string{"cognitive_behavioral_therapy", "mindfulness_therapy"},
	},
	{
		Key: "adaptation_issues", Name: "适应性问题",
		Symptoms:   []string{"想家", "不适应集体生活", "学习节奏跟不上"},
		Expression: "来学校快一个学期了，感觉还是融不进去。",
		Approaches: []string{"solution_focused", "humanistic_therapy"},
	},
	{
		Key: "relationship_issues", Name: "恋爱情感问题",
		Symptoms:   []string{"分手后难以释怀", "患得患失", "反复争吵"},
		Expression: "我和男朋友最近老是吵架，我不知道该怎么办。",
		Approaches: []string{"humanistic_therapy", "psychoanalytic"},
	},
	{
		Key: "family_conflicts", Name: "家庭关系问题",
		Symptoms:   []string{"和父母沟通困难", "回家就压抑", "被过度控制"},
		Expression: "每次和家里打电话都会吵起来，我有点不想回家。",
		Approaches: []string{"psychoanalytic", "humanistic_therapy", "solution_focused"},
	},
	{
		Key: "identity_confusion", Name: "自我认同困惑",
		Symptoms:   []string{"不知道自己想要什么", "对专业迷茫", "常和别人比较"},
		Expression: "我不太清楚自己到底适合什么，感觉很迷茫。",
		Approaches: []string{"humanistic_therapy", "psychoanalytic"},
	},
	{
		Key: "sleep_problems", Name: "睡眠问题",
		Symptoms:   []string{"入睡困难", "早醒", "白天犯困"},
		Expression: "我最近晚上总是睡不着，白天上课也没精神。",
		Approaches: []string{"mindfulness_therapy", "cognitive_behavioral_therapy"},
	},
}

var approaches = []Approach{
	{Key: "cognitive_behavioral_therapy", Name: "认知行为疗法", Style: []string{"结构化", "关注想法与行为的联系", "布置练习"}},
	{Key: "humanistic_therapy", Name: "人本主义疗法", Style: []string{"无条件积极关注", "共情", "以来访者为中心"}},
	{Key: "psychoanalytic", Name: "精神分析取向", Style: []string{"探索早年经历", "关注潜意识冲突", "重视咨访关系"}},
	{Key: "solution_focused", Name: "解决焦点疗法", Style: []string{"关注资源与例外", "设定小目标", "量尺提问"}},
	{Key: "mindfulness_therapy", Name: "正念疗法", Style: []string{"觉察当下", "接纳情绪", "呼吸练习"}},
}

var (
	commonGrades = []string{"大一", "大二", "大三", "大四", "研一", "研二", "研三"}
	commonMajors = []string{
		"计算机科学", "软件工程", "电子信息", "机械工程", "土木工程", "临床医学",
		"汉语言文学", "英语", "新闻传播", "法学", "经济学", "金融学", "会计学",
		"心理学", "教育学", "数学", "物理学", "化学", "生物科学", "艺术设计",
	}
)

// Issues returns the issue catalog.
func Issues() []Issue {
	return slices.Clone(issues)
}

// Approaches returns the approach catalog.
func Approaches() []Approach {
	return slices.Clone(approaches)
}

// LookupIssue finds an issue by key or Chinese name.
func LookupIssue(s string) (Issue, bool) {
	for _, i := range issues {
		if i.Key == s || i.Name == s {
			return i, true
		}
	}
	return Issue{}, false
}

// LookupApproach finds an approach by key or Chinese name.
func LookupApproach(s string) (Approach, bool) {
	for _, a := range approaches {
		if a.Key == s || a.Name == s {
			return a, true
		}
	}
	return Approach{}, false
}

// Suits reports whether approach key a is listed for the issue.
func (i Issue) Suits(a string) bool {
	return slices.Contains(i.Approaches, a)
}

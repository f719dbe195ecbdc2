package procmon

import "strings"

// QuestionTopic tags what a free-text question is about, so the chat
// layer can pick which rows to hand the model.
type QuestionTopic int

const (
	TopicUnclassified QuestionTopic = iota
	TopicRegistry
	TopicFiles
	TopicNetwork
	TopicProcesses
	TopicTasks
)

func (t QuestionTopic) String() string {
	switch t {
	case TopicRegistry:
		return "registry"
	case TopicFiles:
		return "files"
	case TopicNetwork:
		return "network"
	case TopicProcesses:
		return "processes"
	case TopicTasks:
		return "tasks"
	default:
		return "unclassified"
	}
}

var topicKeywords = []struct {
	topic QuestionTopic
	words []string
}{
	{TopicRegistry, []string{"registry", "reg", "hkey", "run key", "persistence"}},
	{TopicFiles, []string{"file", "write", "create", "executable", ".exe", ".dll"}},
	{TopicNetwork, []string{"network", "tcp", "udp", "connection", "ip", "port"}},
	{TopicProcesses, []string{"process", "spawn", "execute", "command line", "child"}},
	{TopicTasks, []string{"task", "schedule", "schtask"}},
}

// ClassifyQuestion sniffs keywords to pick a topic. First matching topic
// wins; registry beats files beats network beats processes beats tasks.
func ClassifyQuestion(question string) QuestionTopic {
	q := strings.ToLower(question)
	for _, tk := range topicKeywords {
		for _, w := range tk.words {
			if strings.Contains(q, w) {
				return tk.topic
			}
		}
	}
	return TopicUnclassified
}

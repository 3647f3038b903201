package logging

// Convenience helpers, one set per category.

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }

func API(format string, args ...interface{})      { Get(CategoryAPI).Info(format, args...) }
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }
func APIWarn(format string, args ...interface{})  { Get(CategoryAPI).Warn(format, args...) }
func APIError(format string, args ...interface{}) { Get(CategoryAPI).Error(format, args...) }

func StreamDebug(format string, args ...interface{}) { Get(CategoryStream).Debug(format, args...) }
func StreamInfo(format string, args ...interface{})  { Get(CategoryStream).Info(format, args...) }
func StreamWarn(format string, args ...interface{})  { Get(CategoryStream).Warn(format, args...) }

func Session(format string, args ...interface{})      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }
func SessionWarn(format string, args ...interface{})  { Get(CategorySession).Warn(format, args...) }

func Routing(format string, args ...interface{})      { Get(CategoryRouting).Info(format, args...) }
func RoutingDebug(format string, args ...interface{}) { Get(CategoryRouting).Debug(format, args...) }
func RoutingWarn(format string, args ...interface{})  { Get(CategoryRouting).Warn(format, args...) }

func Subagent(format string, args ...interface{})      { Get(CategorySubagent).Info(format, args...) }
func SubagentDebug(format string, args ...interface{}) { Get(CategorySubagent).Debug(format, args...) }
func SubagentWarn(format string, args ...interface{})  { Get(CategorySubagent).Warn(format, args...) }

func Autopilot(format string, args ...interface{})      { Get(CategoryAutopilot).Info(format, args...) }
func AutopilotDebug(format string, args ...interface{}) { Get(CategoryAutopilot).Debug(format, args...) }
func AutopilotWarn(format string, args ...interface{})  { Get(CategoryAutopilot).Warn(format, args...) }
func AutopilotError(format string, args ...interface{}) { Get(CategoryAutopilot).Error(format, args...) }

func RetryDebug(format string, args ...interface{}) { Get(CategoryRetry).Debug(format, args...) }
func RetryWarn(format string, args ...interface{})  { Get(CategoryRetry).Warn(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Tools(format string, args ...interface{})      { Get(CategoryTools).Info(format, args...) }
func ToolsDebug(format string, args ...interface{}) { Get(CategoryTools).Debug(format, args...) }
func ToolsWarn(format string, args ...interface{})  { Get(CategoryTools).Warn(format, args...) }

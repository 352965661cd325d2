package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
	_ RawConfigLoader = YAMLConfigLoader{}
	_ RawConfigLoader = StaticRawConfigLoader{}
	_ EventPublisher  = EventPublisherFunc(nil)
	_ EventHandler    = EventHandlerFunc(nil)

	_ MetricsRecorder = NopMetricsRecorder{}
	_ MetricsRecorder = MultiMetricsRecorder{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)

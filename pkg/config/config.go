package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load 读取配置到 out。
//
// 约定：file 为空时查找 config/{service}.yaml，再兜底当前目录。
// 环境变量覆盖，例如：
//
//	QUOTEBOARD_LOG_LEVEL      覆盖 log.level
//	QUOTEBOARD_NATS_PASSWORD  覆盖 nats.password
func Load(service string, file string, out interface{}) (*viper.Viper, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(service)
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(strings.ToUpper(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if d, ok := out.(interface{ Defaults(*viper.Viper) }); ok {
		d.Defaults(v)
	}
	if b, ok := out.(interface{ EnvKeys() []string }); ok {
		bindEnv(v, b.EnvKeys()...)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())
	return v, nil
}

// Watch 监听配置文件变更。
//
// 与热更新不同：这里不会重新 Unmarshal 到已经生效的配置（凭证在启动时已被消费，
// watch-list 启动后不可变），只把变更事件交给调用方，由调用方提示用户重启。
func Watch(v *viper.Viper, onChange func(e fsnotify.Event)) {
	v.OnConfigChange(onChange)
	v.WatchConfig()
}

func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("could not bind env var for key %s: %v", key, err)
		}
	}
}

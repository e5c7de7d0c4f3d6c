package cmd

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const envPrefix = "VOICERELAY_"

// setFlagsFromEnvVars sets every flag in flags that has a matching
// environment variable, e.g. --listen-address from VOICERELAY_LISTEN_ADDRESS.
// Values given on the command line still win since they are parsed later.
func setFlagsFromEnvVars(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		envName := envPrefix + flagNameToUpper(f.Name)

		if value, present := os.LookupEnv(envName); present {
			if err := flags.Set(f.Name, value); err != nil {
				log.Infof("unable to configure flag %s using variable %s, err: %v", f.Name, envName, err)
			}
		}
	})
}

// flagNameToUpper converts a flag name to its corresponding base env name
// replacing dashes by underscores and making the result uppercase
// E.g. listen-address -> LISTEN_ADDRESS
func flagNameToUpper(cmdFlag string) string {
	return strings.ToUpper(strings.ReplaceAll(cmdFlag, "-", "_"))
}

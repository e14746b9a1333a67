/*
 * iptv-gateway is a project to aggregate IPTV sources and share upstream streams between clients.
 * Copyright (C) 2025  Lucas Duport
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/lucasduport/iptv-gateway/pkg/config"
	"github.com/lucasduport/iptv-gateway/pkg/server"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "iptv-gateway",
	Short: "Aggregating gateway for IPTV sources with shared upstream streams",
	Long: `iptv-gateway merges several IPTV providers into one catalog and lets
clients play channels through it, sharing a single upstream connection
per channel and failing over between providers when one breaks.

It supports:
- M3U and Xtream Codes source ingestion with periodic refresh
- Channel deduplication across providers by normalized name
- Shared live sessions with pre-buffering and reconnects
- Per-user playlists, connection limits and expiry
- An Xtream-compatible API surface for standard players`,

	Run: func(cmd *cobra.Command, args []string) {
		utils.Config.DebugLoggingEnabled = utils.Config.DebugLoggingEnabled || viper.GetBool("debug-logging")

		conf := &config.GatewayConfig{
			HostConfig: &config.HostConfiguration{
				Hostname: viper.GetString("hostname"),
				Port:     viper.GetInt("port"),
			},
			AdvertisedPort:       viper.GetInt("advertised-port"),
			HTTPS:                viper.GetBool("https"),
			User:                 config.CredentialString(viper.GetString("user")),
			Password:             config.CredentialString(viper.GetString("password")),
			PlaylistFileName:     viper.GetString("playlist-file-name"),
			RefreshIntervalHours: viper.GetInt("refresh-interval-hours"),

			LDAPEnabled:        viper.GetBool("ldap-enabled"),
			LDAPServer:         viper.GetString("ldap-server"),
			LDAPBaseDN:         viper.GetString("ldap-base-dn"),
			LDAPBindDN:         viper.GetString("ldap-bind-dn"),
			LDAPBindPassword:   viper.GetString("ldap-bind-password"),
			LDAPUserAttribute:  viper.GetString("ldap-user-attribute"),
			LDAPGroupAttribute: viper.GetString("ldap-group-attribute"),
			LDAPRequiredGroup:  viper.GetString("ldap-required-group"),

			DiscordToken:         viper.GetString("discord-token"),
			DiscordStatusChannel: viper.GetString("discord-status-channel"),
		}

		// Use port if advertised port is not specified
		if conf.AdvertisedPort == 0 {
			conf.AdvertisedPort = conf.HostConfig.Port
		}
		utils.DumpStructToLog("Effective configuration", conf)

		gateway, err := server.NewServer(conf)
		if err != nil {
			log.Fatal(err)
		}

		if err := gateway.Serve(); err != nil {
			log.Fatal(err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is $HOME/.iptv-gateway.yaml)")

	// Server flags
	rootCmd.Flags().Int("port", 8080, "Listening port")
	rootCmd.Flags().Int("advertised-port", 0, "Port to use in generated URLs (for reverse proxy)")
	rootCmd.Flags().String("hostname", "", "Hostname to use in generated URLs")
	rootCmd.Flags().BoolP("https", "", false, "Use HTTPS for generated URLs")
	rootCmd.Flags().String("playlist-file-name", "playlist.m3u", "Name of the exported M3U file")
	rootCmd.Flags().Int("refresh-interval-hours", 12, "Hours between source imports, 0 disables the refresh loop")
	rootCmd.Flags().Bool("debug-logging", false, "Enable debug logging")

	// Fallback account used before any users exist in the database
	rootCmd.Flags().String("user", "", "Fallback auth username")
	rootCmd.Flags().String("password", "", "Fallback auth password")

	// LDAP authentication flags
	rootCmd.Flags().Bool("ldap-enabled", false, "Enable LDAP authentication")
	rootCmd.Flags().String("ldap-server", "", "LDAP server URL")
	rootCmd.Flags().String("ldap-base-dn", "", "LDAP base DN")
	rootCmd.Flags().String("ldap-bind-dn", "", "LDAP bind DN")
	rootCmd.Flags().String("ldap-bind-password", "", "LDAP bind password")
	rootCmd.Flags().String("ldap-user-attribute", "uid", "LDAP username attribute")
	rootCmd.Flags().String("ldap-group-attribute", "memberOf", "LDAP group attribute")
	rootCmd.Flags().String("ldap-required-group", "iptv", "Required LDAP group")

	// Discord notification flags
	rootCmd.Flags().String("discord-token", "", "Discord bot token for status notifications")
	rootCmd.Flags().String("discord-status-channel", "", "Discord channel id receiving status notifications")

	// Bind all flags to viper
	if err := viper.BindPFlags(rootCmd.Flags()); err != nil {
		log.Fatal("Error binding PFlags to viper")
	}
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory and current directory
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".iptv-gateway")
	}

	// Replace hyphens with underscores in environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Read environment variables
	viper.AutomaticEnv()

	// Read in config file if found
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

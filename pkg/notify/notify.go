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

// Package notify pushes operational alerts to a Discord channel. The bot
// session is used purely over REST; no gateway connection is opened.
package notify

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

const (
	colorWarn  = 0xFFC107 // amber
	colorError = 0xDC3545 // red

	// alertCooldown suppresses repeats of the same alert so a flapping
	// channel does not flood Discord.
	alertCooldown = 5 * time.Minute
)

// Notifier sends gateway alerts to a single Discord channel. A nil
// Notifier is valid and drops every alert.
type Notifier struct {
	session   *discordgo.Session
	channelID string

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// New builds a Discord notifier, or nil when the bot token or channel id
// is not configured.
func New(token, channelID string) *Notifier {
	if token == "" || channelID == "" {
		utils.InfoLog("Discord notifications disabled")
		return nil
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		utils.ErrorLog("Discord notifier init failed: %v", err)
		return nil
	}
	utils.InfoLog("Discord notifications enabled for channel %s", channelID)
	return &Notifier{
		session:   dg,
		channelID: channelID,
		lastSent:  make(map[string]time.Time),
	}
}

// AllVariantsFailed reports a channel none of whose sources would play.
func (n *Notifier) AllVariantsFailed(channelName string, channelID int64, lastError string) {
	if n == nil || !n.shouldSend("failed:"+strconv.FormatInt(channelID, 10)) {
		return
	}
	n.send(&discordgo.MessageEmbed{
		Title:       "🔴 Channel unavailable",
		Description: fmt.Sprintf("All sources failed for **%s**", channelName),
		Color:       colorError,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Channel ID", Value: strconv.FormatInt(channelID, 10), Inline: true},
			{Name: "Last error", Value: lastError},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ReconnectsExhausted reports a live session closed after using up its
// reconnect budget.
func (n *Notifier) ReconnectsExhausted(channelName string, channelID int64, attempts int) {
	if n == nil || !n.shouldSend("dropped:"+strconv.FormatInt(channelID, 10)) {
		return
	}
	n.send(&discordgo.MessageEmbed{
		Title:       "⚠️ Stream dropped",
		Description: fmt.Sprintf("**%s** lost its upstream after %d reconnect attempts", channelName, attempts),
		Color:       colorWarn,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Channel ID", Value: strconv.FormatInt(channelID, 10), Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *Notifier) shouldSend(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.lastSent[key]; ok && time.Since(t) < alertCooldown {
		return false
	}
	n.lastSent[key] = time.Now()
	return true
}

// send fires the REST call off the caller's goroutine; alerts must never
// hold up session teardown.
func (n *Notifier) send(embed *discordgo.MessageEmbed) {
	go func() {
		if _, err := n.session.ChannelMessageSendEmbed(n.channelID, embed); err != nil {
			utils.WarnLog("Discord notification failed: %v", err)
		}
	}()
}

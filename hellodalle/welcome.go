package hellodalle

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

// buildWelcomePrompt renders the welcome prompt for a member. A
// wildcard roll below the configured chance swaps in the playful
// roast prompt instead of the standard template.
func (hd *HelloDalle) buildWelcomePrompt(
	displayName string,
	avatarDescription string,
) string {
	if hd.wildcardRoll() < hd.Wildcard() {
		style := avatarDescription
		if style == "" {
			style = "unique style"
		}
		return fmt.Sprintf(
			"Create a humorous welcome image for %q that playfully ribs "+
				"them about their %s. Make it light-hearted and fun, not "+
				"mean-spirited. Include the text \"Welcome %s\" prominently "+
				"in a cyberpunk style billboard. The overall aesthetic "+
				"should be synthwave/cyberpunk with their avatar "+
				"characteristics incorporated in a creative, joking way.",
			displayName,
			style,
			displayName,
		)
	}

	avatar := avatarDescription
	if avatar == "" {
		avatar = "an avatar"
	}
	prompt := hd.config.Generation.WelcomePrompt
	prompt = strings.ReplaceAll(prompt, "{username}", displayName)
	prompt = strings.ReplaceAll(prompt, "{avatar}", avatar)
	return prompt
}

// welcomeNewMember runs the full welcome pipeline for a member who just
// joined: wait out the posting delay, then generate and post a welcome
// image (or a profile picture suggestion for members without a custom
// avatar).
func (hd *HelloDalle) welcomeNewMember(ctx context.Context, member ChatMember) {
	log := hd.logger.With(
		"user_id", member.ID(),
		"display_name", member.DisplayName(),
	)
	ctx = WithLogger(ctx, log)

	if delay := hd.config.Discord.PostingDelay; delay > 0 {
		log.Info("delaying welcome", "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	if err := hd.generateWelcome(ctx, member); err != nil {
		log.Error("welcome generation failed", tint.Err(err))
		hd.discord.notifyAdmins(
			fmt.Sprintf(
				"Welcome image generation failed for %q: %s",
				member.DisplayName(),
				err.Error(),
			),
			nil,
		)
	}
}

// generateWelcome produces and posts the welcome image for member.
func (hd *HelloDalle) generateWelcome(
	ctx context.Context,
	member ChatMember,
) error {
	log := contextLoggerOrDefault(ctx, hd.logger)
	displayName := member.DisplayName()
	engine := hd.Engine()

	avatarURL := member.AvatarURL("1024")
	if avatarURL == "" {
		// No custom avatar: offer a generated profile picture instead
		// of a welcome image.
		log.Info("member has no custom avatar, generating profile picture")
		_, err := hd.generateProfilePicture(
			ctx,
			member,
			"",
			engine,
			false,
		)
		return err
	}

	avatarPath := filepath.Join(
		hd.config.TempDir,
		fmt.Sprintf("avatar-%s.png", member.ID()),
	)
	if err := downloadImage(ctx, hd.httpClient, avatarURL, avatarPath); err != nil {
		return fmt.Errorf("error downloading avatar: %w", err)
	}

	genOpts := GenerateOptions{
		UserID:   member.ID(),
		Username: displayName,
		Command:  "welcome",
	}

	var avatarDescription string
	if engine == EngineGemini {
		// The adapter runs the two-step analyze-then-generate strategy
		// with the raw avatar bytes.
		genOpts.ImageInput = avatarPath
		genOpts.UseAnalysis = true
	} else {
		// DALL-E can't take image input, so the avatar is reduced to a
		// description interpolated into the prompt.
		avatarDescription = hd.analyzer.Analyze(ctx, avatarPath)
	}

	prompt := hd.buildWelcomePrompt(displayName, avatarDescription)
	log.Info("welcome prompt built", "prompt", prompt)

	result, err := hd.generator.Generate(ctx, prompt, engine, genOpts)
	if err != nil {
		return err
	}

	welcomeNumber, err := hd.db.NextWelcomeNumber(ctx)
	if err != nil {
		log.Warn("error incrementing welcome counter", tint.Err(err))
	}

	imagePath, err := localizeResult(
		ctx,
		hd.httpClient,
		result,
		hd.config.TempDir,
		fmt.Sprintf("welcome-%d-%s.png", welcomeNumber, uuid.NewString()),
	)
	if err != nil {
		return fmt.Errorf("error saving generated image: %w", err)
	}

	if hd.config.WatermarkPath != "" {
		watermarked := filepath.Join(
			hd.config.WelcomeImagesDir,
			fmt.Sprintf("watermarked-%d.png", time.Now().UnixMilli()),
		)
		if err = addWatermark(
			imagePath, hd.config.WatermarkPath, watermarked,
		); err != nil {
			return fmt.Errorf("error watermarking image: %w", err)
		}
		imagePath = watermarked
	}

	log.Info(
		"welcome image generated",
		"path", imagePath,
		"welcome_number", welcomeNumber,
	)

	hd.discord.notifyAdmins(
		fmt.Sprintf("Welcome image generated for %q.", displayName),
		[]string{avatarPath, imagePath},
	)

	hd.postWelcome(member, imagePath)
	return nil
}

// postWelcome sends the finished welcome image to the welcome channel.
func (hd *HelloDalle) postWelcome(member ChatMember, imagePath string) {
	channelID := hd.config.Discord.WelcomeChannelID
	if channelID == "" {
		return
	}

	msg := &discordgo.MessageSend{
		Content: fmt.Sprintf("Welcome, <@%s>!", member.ID()),
	}
	if hd.config.Discord.StealthWelcome {
		msg.AllowedMentions = &discordgo.MessageAllowedMentions{
			Users: []string{member.ID()},
		}
	}
	hd.discord.messageChannel(channelID, msg, []string{imagePath})
}

func (hd *HelloDalle) handleWelcomeCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	member ChatMember,
) {
	log := contextLoggerOrDefault(ctx, hd.logger)

	if !member.IsAdmin() && !member.HasRole(hd.config.Discord.BotUserRoleID) {
		hd.discord.respond(i, pfpPermissionDeniedMessage)
		return
	}

	opts := interactionOptions(i)
	opt, ok := opts["user"]
	if !ok {
		hd.discord.respond(i, "Missing required option: user")
		return
	}
	user := opt.UserValue(nil)
	resolved, err := hd.discord.session.GuildMember(i.GuildID, user.ID)
	if err != nil {
		log.Error("error resolving target member", tint.Err(err))
		hd.discord.respond(i, "Could not find that member.")
		return
	}
	target := newGuildMember(resolved)

	requestID := uuid.NewString()
	decision := hd.cooldown.Admit(member.ID(), requestID)
	if !decision.Allowed {
		hd.discord.respond(i, decision.Message)
		return
	}
	defer hd.cooldown.Complete(member.ID(), requestID)

	if !hd.discord.acknowledge(i) {
		return
	}

	if err = hd.generateWelcome(ctx, target); err != nil {
		log.Error("welcome generation failed", tint.Err(err))
		hd.discord.followUp(
			i,
			fmt.Sprintf(
				"Failed to generate welcome image for %s: %s",
				target.DisplayName(),
				userFacingError(err),
			),
		)
		return
	}

	hd.discord.followUp(
		i,
		fmt.Sprintf(
			"Welcome image generated for %s!",
			target.DisplayName(),
		),
	)
}

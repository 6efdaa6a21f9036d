package hellodalle

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	pfpPermissionDeniedMessage = "You do not have permission to use this " +
		"command. You need admin privileges or the designated role."
	pfpDisabledMessage = "The pfp command is currently disabled for " +
		"general users."
	pfpUseExistingRequiresGemini = "The use-existing-pfp option is only " +
		"available with the gemini engine, which provides true " +
		"image-to-image transformation."
)

// hasPFPPermission reports whether member may run generation commands.
// Admins and the configured bot-user role always may; everyone else
// only when pfp-anyone is enabled.
func (hd *HelloDalle) hasPFPPermission(member ChatMember) bool {
	if member.IsAdmin() {
		return true
	}
	if member.HasRole(hd.config.Discord.BotUserRoleID) {
		return true
	}
	return hd.PFPAnyone()
}

func (hd *HelloDalle) handlePFPCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	member ChatMember,
) {
	log := contextLoggerOrDefault(ctx, hd.logger)

	if !hd.hasPFPPermission(member) {
		msg := pfpDisabledMessage
		if hd.PFPAnyone() {
			msg = pfpPermissionDeniedMessage
		}
		hd.discord.respond(i, msg)
		return
	}

	opts := interactionOptions(i)

	engine := hd.Engine()
	if opt, ok := opts["engine"]; ok {
		engine = ImageEngine(opt.StringValue())
	}
	var override string
	if opt, ok := opts["override"]; ok {
		override = opt.StringValue()
	}
	var private bool
	if opt, ok := opts["private"]; ok {
		private = opt.BoolValue()
	}
	var useExisting bool
	if opt, ok := opts["use-existing-pfp"]; ok {
		useExisting = opt.BoolValue()
	}

	if useExisting && engine != EngineGemini {
		hd.discord.respond(i, pfpUseExistingRequiresGemini)
		return
	}

	target := member
	if opt, ok := opts["user"]; ok {
		user := opt.UserValue(nil)
		resolved, err := hd.discord.session.GuildMember(i.GuildID, user.ID)
		if err != nil {
			log.Error("error resolving target member", tint.Err(err))
			hd.discord.respond(i, "Could not find that member.")
			return
		}
		target = newGuildMember(resolved)
	}

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

	promptNote := fmt.Sprintf("using %s engine with default prompt", engine)
	if override != "" {
		if private {
			promptNote = fmt.Sprintf(
				"using %s engine with custom prompt (private)", engine,
			)
		} else {
			promptNote = fmt.Sprintf(
				"using %s engine with custom prompt: %q", engine, override,
			)
		}
	}
	hd.discord.notifyAdmins(
		fmt.Sprintf(
			"Generating profile picture for %q %s.",
			target.DisplayName(),
			promptNote,
		),
		nil,
	)

	_, err := hd.generateProfilePicture(ctx, target, override, engine, useExisting)
	if err != nil {
		log.Error("profile picture generation failed", tint.Err(err))
		hd.discord.notifyAdmins(
			fmt.Sprintf(
				"Profile picture generation failed for %q: %s",
				target.DisplayName(),
				err.Error(),
			),
			nil,
		)
		hd.discord.followUp(
			i,
			fmt.Sprintf(
				"Failed to generate profile picture for %s: %s",
				target.DisplayName(),
				userFacingError(err),
			),
		)
		return
	}

	hd.discord.followUp(
		i,
		fmt.Sprintf(
			"Profile picture generated successfully for %s using %s!",
			target.DisplayName(),
			engine,
		),
	)
}

// generateProfilePicture runs the full pfp pipeline for target: build
// the prompt, generate, localize the result, and post it to the
// profile suggestion channel and the botspam channel. Returns the local
// path of the finished image.
func (hd *HelloDalle) generateProfilePicture(
	ctx context.Context,
	target ChatMember,
	override string,
	engine ImageEngine,
	useExisting bool,
) (string, error) {
	log := contextLoggerOrDefault(ctx, hd.logger)
	displayName := target.DisplayName()

	promptBase := fmt.Sprintf(
		"To the best of your ability, create a discord profile picture "+
			"for the user %q",
		displayName,
	)
	if override != "" {
		promptBase = fmt.Sprintf(
			"%s based on this description: %s", promptBase, override,
		)
	} else {
		promptBase = fmt.Sprintf("%s inspired by their name", promptBase)
	}
	prompt := fmt.Sprintf(
		"%s. Image only, no text. Circular to ease cropping.", promptBase,
	)

	genOpts := GenerateOptions{
		UserID:   target.ID(),
		Username: displayName,
		Command:  "pfp",
	}

	if useExisting && engine == EngineGemini {
		avatarURL := target.AvatarURL("1024")
		if avatarURL != "" {
			avatarPath := filepath.Join(
				hd.config.TempDir,
				fmt.Sprintf("avatar-%s.png", target.ID()),
			)
			if err := downloadImage(
				ctx, hd.httpClient, avatarURL, avatarPath,
			); err != nil {
				return "", fmt.Errorf("error downloading avatar: %w", err)
			}
			genOpts.ImageInput = avatarPath
			genOpts.UseAnalysis = true
		}
	}

	result, err := hd.generator.Generate(ctx, prompt, engine, genOpts)
	if err != nil {
		return "", err
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	filename := fmt.Sprintf("%s-profile-%s.png", displayName, timestamp)
	picPath, err := localizeResult(
		ctx,
		hd.httpClient,
		result,
		hd.config.WelcomeImagesDir,
		filename,
	)
	if err != nil {
		return "", fmt.Errorf("error saving generated image: %w", err)
	}

	log.InfoContext(ctx, "profile picture generated", "path", picPath)

	hd.discord.notifyAdmins(
		fmt.Sprintf("Profile picture generated for %q:", displayName),
		[]string{picPath},
	)
	hd.postProfileSuggestion(target, picPath)
	return picPath, nil
}

// postProfileSuggestion offers a generated profile picture to the
// member in the profile channel.
func (hd *HelloDalle) postProfileSuggestion(target ChatMember, picPath string) {
	channelID := hd.config.Discord.ProfileChannelID
	if channelID == "" {
		channelID = hd.config.Discord.WelcomeChannelID
	}
	if channelID == "" {
		return
	}

	msg := &discordgo.MessageSend{
		Content: fmt.Sprintf(
			"Hey <@%s>, you don't have a profile pic yet - do you want to "+
				"use this one we made for you, based on your username?",
			target.ID(),
		),
	}
	if hd.config.Discord.StealthWelcome {
		msg.AllowedMentions = &discordgo.MessageAllowedMentions{
			Users: []string{target.ID()},
		}
	}
	hd.discord.messageChannel(channelID, msg, []string{picPath})
}

func (hd *HelloDalle) handlePFPAnyoneCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	member ChatMember,
) {
	if !member.IsAdmin() {
		hd.discord.respond(i, "Only admins can change this setting.")
		return
	}

	opts := interactionOptions(i)
	opt, ok := opts["enabled"]
	if !ok {
		hd.discord.respond(i, "Missing required option: enabled")
		return
	}
	enabled := opt.BoolValue()

	if err := hd.SetPFPAnyone(ctx, enabled); err != nil {
		contextLoggerOrDefault(ctx, hd.logger).Error(
			"error updating pfp-anyone setting",
			tint.Err(err),
		)
		hd.discord.respond(i, DefaultDiscordErrorMessage)
		return
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	hd.discord.respond(i, fmt.Sprintf("pfp for everyone is now %s.", state))
	hd.discord.notifyAdmins(
		fmt.Sprintf(
			"/pfp-anyone: pfp for everyone %s by %q.",
			state,
			member.DisplayName(),
		),
		nil,
	)
}

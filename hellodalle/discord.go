package hellodalle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// ChatMember is the narrow view of a chat platform member the core
// depends on. The concrete Discord type stays behind this boundary.
type ChatMember interface {
	// ID is the platform user ID
	ID() string

	// DisplayName is the member's display name (nick, global name or
	// username, in that order)
	DisplayName() string

	// AvatarURL returns the member's avatar image URL at the given
	// size, empty when the member has no custom avatar
	AvatarURL(size string) string

	// HasRole reports whether the member holds the given role
	HasRole(roleID string) bool

	// IsAdmin reports whether the member has administrator permissions
	IsAdmin() bool
}

// guildMember adapts a discordgo guild member to ChatMember.
type guildMember struct {
	member *discordgo.Member
}

func newGuildMember(member *discordgo.Member) guildMember {
	return guildMember{member: member}
}

func (m guildMember) ID() string {
	if m.member.User == nil {
		return ""
	}
	return m.member.User.ID
}

func (m guildMember) DisplayName() string {
	if m.member.Nick != "" {
		return m.member.Nick
	}
	if m.member.User == nil {
		return ""
	}
	if m.member.User.GlobalName != "" {
		return m.member.User.GlobalName
	}
	return m.member.User.Username
}

func (m guildMember) AvatarURL(size string) string {
	if m.member.User == nil || m.member.User.Avatar == "" {
		return ""
	}
	return m.member.User.AvatarURL(size)
}

func (m guildMember) HasRole(roleID string) bool {
	if roleID == "" {
		return false
	}
	for _, r := range m.member.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

func (m guildMember) IsAdmin() bool {
	return m.member.Permissions&discordgo.PermissionAdministrator != 0
}

// DiscordSessionHandler defines the methods used from
// `discordgo.Session`, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// ApplicationCommandBulkOverwrite registers the bot's slash commands
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// FollowupMessageCreate creates a followup message for an
	// already-acknowledged interaction
	FollowupMessageCreate(
		interaction *discordgo.Interaction,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendComplex sends a message to a channel
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// GuildMember returns a member of the given guild
	GuildMember(
		guildID string,
		userID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Member, error)
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session].
type DiscordSession struct {
	session *discordgo.Session
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	wait bool,
	data *discordgo.WebhookParams,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.FollowupMessageCreate(interaction, wait, data, options...)
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendComplex(channelID, data, options...)
}

func (d DiscordSession) GuildMember(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	return d.session.GuildMember(guildID, userID, options...)
}

// Discord manages the gateway connection, command registration and
// event dispatch.
type Discord struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger
	hd      *HelloDalle

	discordgoRemoveHandlerFuncs []func()
}

func newDiscord(config *DiscordConfig) (*Discord, error) {
	d := &Discord{
		config:                      config,
		logger:                      slog.Default().With(loggerNameKey, "discord"),
		discordgoRemoveHandlerFuncs: []func(){},
	}

	session, err := discordgo.New(fmt.Sprintf("Bot %s", config.Token))
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	session.Identify.Intents = config.GatewayIntents
	if config.DiscordGoLogLevel != nil {
		session.LogLevel = discordgoLogLevel(config.DiscordGoLogLevel.Level())
	}
	d.session = DiscordSession{session: session}
	return d, nil
}

// applicationCommands are the slash commands registered on startup.
func applicationCommands() []*discordgo.ApplicationCommand {
	var wildcardMin float64

	return []*discordgo.ApplicationCommand{
		{
			Name:        DiscordSlashCommandPFP,
			Description: "Generate a profile picture suggestion",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to generate a profile picture for (default: you)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "override",
					Description: "Custom prompt to use instead of the default",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "private",
					Description: "Don't echo the custom prompt to the log channel",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "engine",
					Description: "Engine to use for this generation",
					Required:    false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "dalle", Value: string(EngineDalle)},
						{Name: "gemini", Value: string(EngineGemini)},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "use-existing-pfp",
					Description: "Transform the member's current avatar (gemini only)",
					Required:    false,
				},
			},
		},
		{
			Name:        DiscordSlashCommandPFPAnyone,
			Description: "Toggle whether anyone can use /pfp",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "Allow everyone to use /pfp",
					Required:    true,
				},
			},
		},
		{
			Name:        DiscordSlashCommandWelcome,
			Description: "Generate a welcome image for a member",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to welcome",
					Required:    true,
				},
			},
		},
		{
			Name:        DiscordSlashCommandEngine,
			Description: "Show or set the image generation engine",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "engine",
					Description: "Engine to use",
					Required:    false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "dalle", Value: string(EngineDalle)},
						{Name: "gemini", Value: string(EngineGemini)},
					},
				},
			},
		},
		{
			Name:        DiscordSlashCommandWildcard,
			Description: "Set the wildcard chance for welcome image generation (0-99)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "value",
					Description: "The wildcard percentage (0-99)",
					Required:    true,
					MinValue:    &wildcardMin,
					MaxValue:    99,
				},
			},
		},
	}
}

// registerCommands overwrites the bot's slash commands. With a guild ID
// configured, commands register instantly on that guild; otherwise
// they're global and take up to an hour to propagate.
func (d *Discord) registerCommands(ctx context.Context) error {
	cmds := applicationCommands()
	registered, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		cmds,
	)
	if err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	names := make([]string, 0, len(registered))
	for _, c := range registered {
		names = append(names, c.Name)
	}
	d.logger.InfoContext(ctx, "registered slash commands", "commands", names)
	return nil
}

func (d *Discord) addHandlers(hd *HelloDalle) {
	d.hd = hd
	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(d.handleReady),
		d.session.AddHandler(d.handleGuildMemberAdd),
		d.session.AddHandler(d.handleInteractionCreate),
	)
}

func (d *Discord) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.logger.Info(
		"discord connection ready",
		"username", r.User.Username,
		"session_id", r.SessionID,
	)
	if d.config.StartupMessage != "" && d.config.BotspamChannelID != "" {
		d.messageChannel(
			d.config.BotspamChannelID,
			&discordgo.MessageSend{Content: d.hd.startupMessage()},
			nil,
		)
	}
}

func (d *Discord) handleGuildMemberAdd(
	_ *discordgo.Session,
	m *discordgo.GuildMemberAdd,
) {
	if m.Member == nil || m.Member.User == nil || m.Member.User.Bot {
		return
	}
	member := newGuildMember(m.Member)
	d.logger.Info(
		"member joined",
		"user_id", member.ID(),
		"display_name", member.DisplayName(),
	)
	go d.hd.welcomeNewMember(context.Background(), member)
}

func (d *Discord) handleInteractionCreate(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.Member == nil || i.Member.User == nil {
		return
	}

	name := i.ApplicationCommandData().Name
	member := newGuildMember(i.Member)
	log := d.logger.With(
		"command", name,
		"user_id", member.ID(),
		"display_name", member.DisplayName(),
	)
	ctx := WithLogger(context.Background(), log)
	log.Info("interaction received")

	switch name {
	case DiscordSlashCommandPFP:
		go d.hd.handlePFPCommand(ctx, i, member)
	case DiscordSlashCommandPFPAnyone:
		go d.hd.handlePFPAnyoneCommand(ctx, i, member)
	case DiscordSlashCommandWelcome:
		go d.hd.handleWelcomeCommand(ctx, i, member)
	case DiscordSlashCommandEngine:
		go d.hd.handleEngineCommand(ctx, i, member)
	case DiscordSlashCommandWildcard:
		go d.hd.handleWildcardCommand(ctx, i, member)
	default:
		log.Warn("unknown command")
	}
}

// respond sends an immediate ephemeral reply to an interaction.
func (d *Discord) respond(i *discordgo.InteractionCreate, content string) {
	err := d.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		d.logger.Error("error responding to interaction", tint.Err(err))
	}
}

// acknowledge sends a deferred ephemeral response, buying time for the
// generation call. Returns false if the acknowledgement failed.
func (d *Discord) acknowledge(i *discordgo.InteractionCreate) bool {
	err := d.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Flags: discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		d.logger.Error("error acknowledging interaction", tint.Err(err))
		return false
	}
	return true
}

// followUp sends the final ephemeral reply to an acknowledged
// interaction.
func (d *Discord) followUp(i *discordgo.InteractionCreate, content string) {
	_, err := d.session.FollowupMessageCreate(
		i.Interaction,
		true,
		&discordgo.WebhookParams{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	)
	if err != nil {
		d.logger.Error("error sending followup", tint.Err(err))
	}
}

// messageChannel sends msg to a channel, attaching the given files.
func (d *Discord) messageChannel(
	channelID string,
	msg *discordgo.MessageSend,
	filePaths []string,
) {
	var toClose []*os.File
	defer func() {
		for _, f := range toClose {
			_ = f.Close()
		}
	}()

	for _, p := range filePaths {
		f, err := os.Open(p)
		if err != nil {
			d.logger.Error(
				"error opening attachment",
				"path", p,
				tint.Err(err),
			)
			continue
		}
		toClose = append(toClose, f)
		msg.Files = append(
			msg.Files,
			&discordgo.File{
				Name:   filepath.Base(p),
				Reader: f,
			},
		)
	}

	if _, err := d.session.ChannelMessageSendComplex(channelID, msg); err != nil {
		d.logger.Error(
			"error sending channel message",
			"channel_id", channelID,
			tint.Err(err),
		)
	}
}

// notifyAdmins posts an operational message (and any attachments) to
// the botspam channel.
func (d *Discord) notifyAdmins(content string, filePaths []string) {
	if d.config.BotspamChannelID == "" {
		return
	}
	d.messageChannel(
		d.config.BotspamChannelID,
		&discordgo.MessageSend{Content: content},
		filePaths,
	)
}
